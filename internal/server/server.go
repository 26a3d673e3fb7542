// Package server exposes the pipeline's observability surface over HTTP:
// a JSON status endpoint, the Prometheus scrape endpoint and a websocket
// feed streaming live per-stage statistics. The surface is read-only and
// unauthenticated.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HZDR-FWDF/RISA/internal/logging"
	"github.com/HZDR-FWDF/RISA/internal/monitoring"
)

// snapshotInterval is the cadence of websocket stat frames.
const snapshotInterval = time.Second

// Status is the payload of /status and of each websocket frame.
type Status struct {
	RunID         string                  `json:"runId"`
	Mode          string                  `json:"mode"`
	UptimeSeconds float64                 `json:"uptimeSeconds"`
	Stages        []monitoring.StageStats `json:"stages"`
}

// Server is the HTTP status server of one reconstruction run.
type Server struct {
	runID   string
	mode    string
	metrics *monitoring.Metrics
	log     *logging.Logger

	engine   *gin.Engine
	http     *http.Server
	upgrader websocket.Upgrader
}

// New creates the server for a run in the given mode ("online", "offline",
// "perf").
func New(mode string, metrics *monitoring.Metrics, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		runID:   uuid.NewString(),
		mode:    mode,
		metrics: metrics,
		log:     log,
		engine:  gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.engine.Use(gin.Recovery())
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	s.engine.GET("/ws", s.handleWS)
	return s
}

// RunID returns the run identifier attached to this process.
func (s *Server) RunID() string { return s.runID }

// Start serves on host:port until Close is called.
func (s *Server) Start(host, port string) {
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", host, port),
		Handler: s.engine,
	}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("status server stopped", zap.Error(err))
		}
	}()
	s.log.Info("status server listening",
		zap.String("addr", s.http.Addr),
		zap.String("runId", s.runID))
}

// Close shuts the server down gracefully.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) snapshot() Status {
	stages := s.metrics.Stages()
	sort.Slice(stages, func(i, j int) bool { return stages[i].Name < stages[j].Name })
	return Status{
		RunID:         s.runID,
		Mode:          s.mode,
		UptimeSeconds: time.Since(s.metrics.StartTime()).Seconds(),
		Stages:        stages,
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot())
}

// handleWS streams a status snapshot every second until the client goes
// away.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
	}
}
