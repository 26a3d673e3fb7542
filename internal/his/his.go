// Package his reads and writes the HIS detector file format: a fixed 68-byte
// little-endian file header, a variable image-header block, then the pixel
// data of a single frame.
package his

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/HZDR-FWDF/RISA/internal/memory"
)

const (
	// FileID is the magic the file_type header field must carry.
	FileID uint16 = 0x7000
	// FileHeaderSize is the fixed size of the file header in bytes.
	FileHeaderSize uint16 = 68
	// restSize pads the header out to FileHeaderSize bytes.
	restSize = 34
)

// Sample type codes carried in the type_of_numbers header field.
const (
	TypeNotImplemented int32 = -1
	TypeUint8          int32 = 2
	TypeUint16         int32 = 4
	TypeUint32         int32 = 32
	TypeFloat64        int32 = 64
	TypeFloat32        int32 = 128
)

// Header is the HIS file header.
type Header struct {
	FileType        uint16
	HeaderSize      uint16
	HeaderVersion   uint16
	FileSize        uint32
	ImageHeaderSize uint16
	ULX, ULY        uint16 // upper-left pixel of the bounding rectangle
	BRX, BRY        uint16 // bottom-right pixel of the bounding rectangle
	NumberOfFrames  uint16
	Correction      uint16
	IntegrationTime float64
	TypeOfNumbers   uint16
	Reserved        [restSize]uint8
}

// Width returns the image width encoded by the bounding rectangle.
func (h *Header) Width() int { return int(h.BRX) - int(h.ULX) + 1 }

// Height returns the image height encoded by the bounding rectangle.
func (h *Header) Height() int { return int(h.BRY) - int(h.ULY) + 1 }

// Loader reads HIS files into images of one memory domain. Invalid or
// unsupported files yield a nil (invalid) image rather than an error, so
// directory scans can skip them.
type Loader[T memory.Sample] struct {
	mgr memory.Manager[T]
}

// NewLoader creates a loader allocating through mgr.
func NewLoader[T memory.Sample](mgr memory.Manager[T]) *Loader[T] {
	return &Loader[T]{mgr: mgr}
}

// LoadImage reads the HIS file at path and returns its frame converted to
// the loader's element type, with the given frame index attached. A missing
// file, a foreign file type, a header mismatch, an unsupported sample type
// or a multi-frame file all return nil.
func (l *Loader[T]) LoadImage(path string, index uint64) *memory.Image[T] {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var header Header
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil
	}
	if header.FileType != FileID {
		return nil
	}
	if header.HeaderSize != FileHeaderSize {
		return nil
	}
	if int16(header.TypeOfNumbers) == int16(TypeNotImplemented) {
		return nil
	}
	if header.NumberOfFrames != 1 {
		return nil
	}

	// Skip the image header block.
	if _, err := io.CopyN(io.Discard, f, int64(header.ImageHeaderSize)); err != nil {
		return nil
	}

	w, h := header.Width(), header.Height()
	data, err := readSamples[T](f, int32(header.TypeOfNumbers), w*h)
	if err != nil {
		return nil
	}

	img := memory.NewImage2D(l.mgr, w, h)
	copy(img.Data(), data)
	img.SetIndex(index)
	return img
}

func readSamples[T memory.Sample](r io.Reader, typeOfNumbers int32, n int) ([]T, error) {
	out := make([]T, n)
	switch typeOfNumbers {
	case TypeUint8:
		buf := make([]uint8, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = T(v)
		}
	case TypeUint16:
		buf := make([]uint16, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = T(v)
		}
	case TypeUint32:
		buf := make([]uint32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = T(v)
		}
	case TypeFloat64:
		buf := make([]float64, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = T(v)
		}
	case TypeFloat32:
		buf := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = T(v)
		}
	default:
		return nil, fmt.Errorf("his: unsupported sample type %d", typeOfNumbers)
	}
	return out, nil
}

// WriteFile writes a single-frame HIS file with the given sample type code
// and raw sample payload. The payload must already be encoded for the sample
// type; width and height define the bounding rectangle.
func WriteFile(path string, w, h int, typeOfNumbers int32, samples any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("his: create %s: %w", path, err)
	}
	defer f.Close()

	header := Header{
		FileType:        FileID,
		HeaderSize:      FileHeaderSize,
		HeaderVersion:   100,
		ImageHeaderSize: 0,
		ULX:             1,
		ULY:             1,
		BRX:             uint16(w),
		BRY:             uint16(h),
		NumberOfFrames:  1,
		TypeOfNumbers:   uint16(typeOfNumbers),
	}
	if err := binary.Write(f, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("his: write header: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("his: write samples: %w", err)
	}
	return nil
}
