// Package rpc implements the HTTP RPC Surface: /execute, /handoff,
// /capsules, /capsules/:name/schema, /visualizer/state, /health, and
// /metrics, every mutating call dispatched onto a bounded worker pool.
package rpc

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/FlexNetOS/capsule-orchestrator/internal/config"
	"github.com/FlexNetOS/capsule-orchestrator/internal/container"
	"github.com/FlexNetOS/capsule-orchestrator/internal/executor"
	"github.com/FlexNetOS/capsule-orchestrator/internal/handoff"
	"github.com/FlexNetOS/capsule-orchestrator/internal/state"
	"github.com/FlexNetOS/capsule-orchestrator/internal/volume"
)

// ExecuteRequest is the POST /execute body.
type ExecuteRequest struct {
	Capsule string            `json:"capsule" binding:"required"`
	Input   map[string]any    `json:"input"`
	Files   map[string]string `json:"files,omitempty"`
}

// HandoffRequest is the POST /handoff body.
type HandoffRequest struct {
	SessionID string         `json:"session_id" binding:"required"`
	Target    string         `json:"target" binding:"required"`
	Args      map[string]any `json:"args"`
}

// Server wires the RPC Surface over every other component.
type Server struct {
	registry *config.Registry
	volumes  *volume.Manager
	driver   container.Driver
	tracker  *state.Tracker
	executor *executor.Executor
	handoff  *handoff.Handler
	pool     *Pool
	metrics  *Metrics
	log      *logrus.Logger
	router   *gin.Engine
	ready    bool
}

type Deps struct {
	Registry *config.Registry
	Volumes  *volume.Manager
	Driver   container.Driver
	Tracker  *state.Tracker
	Executor *executor.Executor
	Handoff  *handoff.Handler
	Logger   *logrus.Logger
}

// New constructs the RPC Surface. It does not start listening; call Run.
func New(d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	metricsRegistry := prometheus.NewRegistry()

	s := &Server{
		registry: d.Registry,
		volumes:  d.Volumes,
		driver:   d.Driver,
		tracker:  d.Tracker,
		executor: d.Executor,
		handoff:  d.Handoff,
		pool:     NewPool(d.Registry.Workers()),
		metrics:  NewMetrics(metricsRegistry),
		log:      d.Logger,
		router:   router,
	}
	s.setupRoutes(metricsRegistry)
	return s
}

func (s *Server) setupRoutes(metricsRegistry *prometheus.Registry) {
	s.router.POST("/execute", s.handleExecute)
	s.router.POST("/handoff", s.handleHandoff)
	s.router.GET("/capsules", s.handleListCapsules)
	s.router.GET("/capsules/:name/schema", s.handleCapsuleSchema)
	s.router.GET("/visualizer/state", s.handleVisualizerState)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})))
}

// MarkReady flips the readiness flag once startup (network + eager image
// builds) has finished; before this point /execute and /handoff answer 503
// and /health reports status "starting".
func (s *Server) MarkReady() { s.ready = true }

func (s *Server) handleExecute(c *gin.Context) {
	if !s.ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "orchestrator is still initializing"})
		return
	}

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format: " + err.Error()})
		return
	}

	s.metrics.WorkerPoolOccupancy.Set(float64(s.pool.Occupancy()))
	s.metrics.ExecutionsStarted.Inc()

	var result *executor.Result
	started := time.Now()
	s.pool.SubmitAndWait(func() {
		result = s.executor.Execute(c.Request.Context(), executor.Params{
			Capsule:         req.Capsule,
			Input:           req.Input,
			Files:           req.Files,
			OrchestratorURL: s.registry.OrchestratorURL(),
		})
	})
	s.metrics.ContainerRunSeconds.Observe(time.Since(started).Seconds())
	s.metrics.WorkerPoolOccupancy.Set(float64(s.pool.Occupancy()))

	if result.Success {
		s.metrics.ExecutionsCompleted.Inc()
	} else {
		s.metrics.ExecutionsFailed.Inc()
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleHandoff(c *gin.Context) {
	if !s.ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "orchestrator is still initializing"})
		return
	}

	var req HandoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format: " + err.Error()})
		return
	}

	s.metrics.HandoffsTotal.Inc()

	var result *executor.Result
	s.pool.SubmitAndWait(func() {
		result = s.handoff.Handoff(c.Request.Context(), handoff.Params{
			CallerSession:   req.SessionID,
			Target:          req.Target,
			Args:            req.Args,
			OrchestratorURL: s.registry.OrchestratorURL(),
		})
	})

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListCapsules(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Capsules())
}

func (s *Server) handleCapsuleSchema(c *gin.Context) {
	name := c.Param("name")
	path, ok := s.registry.SchemaPath(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown capsule"})
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schema not found for capsule"})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) handleVisualizerState(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	if !s.ready {
		status = "starting"
	}

	driverStatus := "healthy"
	if err := s.driver.Healthy(c.Request.Context()); err != nil {
		driverStatus = "unreachable: " + err.Error()
		if s.ready {
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           status,
		"service":          "capsule-orchestrator",
		"timestamp":        time.Now().UTC(),
		"container_driver": driverStatus,
		"worker_pool_size": s.pool.Size(),
		"worker_pool_busy": s.pool.Occupancy(),
	})
}

// Run starts the HTTP server and blocks until ctx is canceled, at which
// point it drains the worker pool and shuts the server down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("capsule orchestrator listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down capsule orchestrator")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	s.pool.Drain()
	s.volumes.CleanupAll()
	s.log.Info("capsule orchestrator stopped")
	return nil
}
