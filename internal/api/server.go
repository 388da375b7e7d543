// Package api exposes the run-tracking HTTP service: start a scan, poll
// its status and logs, stream progress over a websocket, and cancel a
// run. Scan state lives in the runs.Store; execution happens on the
// worker pool.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/internal/orchestrator"
	"github.com/strixsec/strix/internal/runs"
	"github.com/strixsec/strix/internal/worker"
	"github.com/strixsec/strix/pkg/types"
)

// ScanFunc executes one scan, emitting progress through the emitter.
type ScanFunc func(ctx context.Context, target string, emitter events.Emitter) (*types.ScanResult, error)

type Server struct {
	cfg    *config.Config
	logger *logger.Logger
	store  *runs.Store
	pool   *worker.Pool
	scan   ScanFunc
	engine *gin.Engine
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard may be served from another origin; access control
	// is the deployment's concern, as with the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewServer(cfg *config.Config, log *logger.Logger, store *runs.Store, pool *worker.Pool, scan ScanFunc) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if store == nil {
		store = runs.NewStore()
	}
	if pool == nil {
		pool = worker.NewPool(cfg.Worker.Count, 0, log)
	}

	s := &Server{
		cfg:    cfg,
		logger: log.WithComponent("api"),
		store:  store,
		pool:   pool,
		scan:   scan,
	}
	if s.scan == nil {
		s.scan = s.runOrchestrator
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())
	if cfg.Server.EnableCORS {
		engine.Use(corsMiddleware())
	}

	engine.POST("/attack", s.handleStartScan)
	engine.GET("/status/:run_id", s.handleStatus)
	engine.DELETE("/attack/:run_id", s.handleCancel)
	engine.GET("/health", s.handleHealth)
	engine.GET("/ws/runs/:run_id", s.handleLogStream)

	s.engine = engine
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Infow("API server listening", "addr", addr)
	return s.engine.Run(addr)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debugw("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Header("Access-Control-Allow-Headers", "*")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

type scanRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) handleStartScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "URL is required"})
		return
	}

	runID := s.store.Create(req.URL)

	err := s.pool.Submit(runID, func(ctx context.Context) {
		s.executeScan(ctx, runID, req.URL)
	})
	if err != nil {
		s.store.Fail(runID, err.Error())
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
		return
	}

	s.logger.Infow("Scan queued", "run_id", runID, "target", req.URL)
	c.JSON(http.StatusOK, gin.H{"runId": runID})
}

// executeScan runs one scan on a worker. The orchestrator publishes
// progress into a channel sink; a drain goroutine moves the events into
// the run store, so a slow store write never stalls the scan itself.
func (s *Server) executeScan(ctx context.Context, runID, target string) {
	s.store.AppendLog(runID, types.LogEntry{
		Timestamp: time.Now(),
		Message:   fmt.Sprintf("Starting security scan on %s", target),
		Level:     string(events.LevelInfo),
	})
	s.store.SetStatus(runID, types.RunStatusScanning)

	sink := events.NewSink(0)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range sink.Events() {
			s.store.AppendLog(runID, types.LogEntry{
				Timestamp: ev.Timestamp,
				Message:   ev.Message,
				Level:     string(ev.Level),
			})
		}
	}()

	result, err := s.scan(ctx, target, sink)
	sink.Close()
	<-drained

	if err != nil {
		s.store.AppendLog(runID, types.LogEntry{
			Timestamp: time.Now(),
			Message:   fmt.Sprintf("Scan failed: %v", err),
			Level:     string(events.LevelError),
		})
		s.store.Fail(runID, err.Error())
		s.logger.Errorw("Scan failed", "run_id", runID, "error", err)
		return
	}

	s.store.AppendLog(runID, types.LogEntry{
		Timestamp: time.Now(),
		Message:   "Scan complete. Report ready.",
		Level:     string(events.LevelSuccess),
	})
	s.store.Complete(runID, result)
}

func (s *Server) runOrchestrator(ctx context.Context, target string, emitter events.Emitter) (*types.ScanResult, error) {
	o, err := orchestrator.New(orchestrator.Options{
		Config:  s.cfg,
		Logger:  s.logger,
		Emitter: emitter,
	})
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, target)
}

type statusResponse struct {
	Status types.RunStatus  `json:"status"`
	Logs   []types.LogEntry `json:"logs"`
	Report *Report          `json:"report"`
	Error  string           `json:"error,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, ok := s.store.Get(c.Param("run_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Scan not found"})
		return
	}

	c.JSON(http.StatusOK, statusResponse{
		Status: snap.Status,
		Logs:   snap.Logs,
		Report: buildReport(snap.Result),
		Error:  snap.Error,
	})
}

func (s *Server) handleCancel(c *gin.Context) {
	runID := c.Param("run_id")
	if _, ok := s.store.Get(runID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Scan not found"})
		return
	}
	if !s.pool.Cancel(runID) {
		c.JSON(http.StatusConflict, gin.H{"detail": "Scan is not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": runID})
}

func (s *Server) handleHealth(c *gin.Context) {
	active := 0
	for _, snap := range s.store.List() {
		if snap.Status == types.RunStatusScanning {
			active++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"active_scans": active,
	})
}

// handleLogStream pushes log entries for a run over a websocket. Each
// poll sends only entries the client has not seen; the stream ends when
// the run reaches a terminal status.
func (s *Server) handleLogStream(c *gin.Context) {
	runID := c.Param("run_id")
	if _, ok := s.store.Get(runID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Scan not found"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("Websocket upgrade failed", "run_id", runID, "error", err)
		return
	}
	defer conn.Close()

	sent := 0
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		snap, ok := s.store.Get(runID)
		if !ok {
			return
		}

		for ; sent < len(snap.Logs); sent++ {
			if err := conn.WriteJSON(snap.Logs[sent]); err != nil {
				return
			}
		}

		if snap.Status == types.RunStatusComplete || snap.Status == types.RunStatusError {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status))
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			return
		}

		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
