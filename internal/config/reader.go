// Package config loads the scanner and reconstruction configuration. The
// structured configuration file (JSON or YAML, chosen by extension) is
// queried through keyed lookups; process-level settings (log level, status
// server port, device count) come from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

// Reader answers keyed lookups against a parsed configuration file.
type Reader struct {
	path   string
	values map[string]any
}

// Open parses the configuration file at path. ".yaml"/".yml" files are
// parsed as YAML, everything else as JSON.
func Open(path string) (*Reader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	values := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := sonic.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return &Reader{path: path, values: values}, nil
}

// Path returns the path the reader was opened from.
func (r *Reader) Path() string { return r.path }

// LookupValue reads the value stored under key into out and reports whether
// the key exists and has a compatible type. out must be a pointer to int,
// uint, int64, float32, float64, string, bool or []int.
func (r *Reader) LookupValue(key string, out any) bool {
	v, ok := r.values[key]
	if !ok {
		return false
	}

	switch dst := out.(type) {
	case *int:
		n, ok := toFloat(v)
		if !ok {
			return false
		}
		*dst = int(n)
	case *uint:
		n, ok := toFloat(v)
		if !ok || n < 0 {
			return false
		}
		*dst = uint(n)
	case *int64:
		n, ok := toFloat(v)
		if !ok {
			return false
		}
		*dst = int64(n)
	case *float32:
		n, ok := toFloat(v)
		if !ok {
			return false
		}
		*dst = float32(n)
	case *float64:
		n, ok := toFloat(v)
		if !ok {
			return false
		}
		*dst = n
	case *string:
		s, ok := v.(string)
		if !ok {
			return false
		}
		*dst = s
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return false
		}
		*dst = b
	case *[]int:
		list, ok := v.([]any)
		if !ok {
			return false
		}
		ints := make([]int, 0, len(list))
		for _, item := range list {
			n, ok := toFloat(item)
			if !ok {
				return false
			}
			ints = append(ints, int(n))
		}
		*dst = ints
	default:
		return false
	}
	return true
}

// toFloat normalises the numeric types the JSON and YAML decoders produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
