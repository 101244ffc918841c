package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/logscan/logscan/pkg/apiserver/handlers"
	"github.com/logscan/logscan/pkg/apiserver/middleware"
	"github.com/logscan/logscan/pkg/config"
	"github.com/logscan/logscan/pkg/eventbus"
	"github.com/logscan/logscan/pkg/parser"
	"github.com/logscan/logscan/pkg/pipeline"
	"github.com/logscan/logscan/pkg/query"
	"github.com/logscan/logscan/pkg/store"
	"github.com/logscan/logscan/pkg/store/clickhouse"
	"github.com/logscan/logscan/pkg/store/postgres"
	redisclient "github.com/logscan/logscan/pkg/store/redis"
)

type Server struct {
	router     *gin.Engine
	entries    store.EntryStore
	jobs       store.JobStore
	controller *pipeline.Controller
	queries    *query.Service
	cfg        *config.Config
	logger     *zap.Logger
}

func NewServer(db *postgres.Store, redis *redisclient.Client, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	var entries store.EntryStore
	if cfg.Storage.Driver == "clickhouse" {
		logger.Info("using clickhouse for entry storage")
		ch, err := clickhouse.NewEntryStore(
			cfg.ClickHouse.Hosts[0],
			cfg.ClickHouse.Database,
			cfg.ClickHouse.User,
			cfg.ClickHouse.Password,
			cfg.Storage.ConnectTimeout,
			cfg.Storage.SocketTimeout,
			logger,
		)
		if err != nil {
			return nil, err
		}
		if err := ch.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		entries = ch
	} else {
		logger.Info("using postgres for entry storage")
		if err := db.AutoMigrate(); err != nil {
			return nil, err
		}
		entries = postgres.NewEntryRepository(db.DB())
	}

	jobs := redisclient.NewJobStore(redis)
	bus := eventbus.NewBus(redis.Client())

	s := NewServerWith(entries, jobs, bus, cfg, logger)

	if cfg.Processing.RetentionDays > 0 {
		go s.startRetentionWorker()
	}

	return s, nil
}

// NewServerWith wires the server against explicit storage contracts; the
// driver selection in NewServer and the tests both go through here.
func NewServerWith(entries store.EntryStore, jobs store.JobStore, bus *eventbus.Bus, cfg *config.Config, logger *zap.Logger) *Server {
	registry := parser.NewDefaultRegistry(logger)

	controller := pipeline.NewController(registry, entries, jobs, bus, cfg.Processing, logger)
	controller.Start()

	s := &Server{
		entries:    entries,
		jobs:       jobs,
		controller: controller,
		queries:    query.NewService(entries, jobs, logger),
		cfg:        cfg,
		logger:     logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) startRetentionWorker() {
	ticker := time.NewTicker(1 * time.Hour)
	for range ticker.C {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.Processing.RetentionDays)
		s.logger.Info("starting entry retention cleanup", zap.Time("cutoff", cutoff))
		if err := s.entries.DeleteOlderThan(context.Background(), cutoff); err != nil {
			s.logger.Error("failed to clean up old entries", zap.Error(err))
		}
	}
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logHandler := handlers.NewLogHandler(s.controller, s.queries, s.cfg.File, s.logger)
	logs := r.Group("/logs")
	{
		logs.POST("/upload", logHandler.Upload)
		logs.GET("/status/:jobId", logHandler.Status)
		logs.GET("/result/:jobId", logHandler.Result)
		logs.POST("/search", logHandler.Search)
		logs.GET("/search", logHandler.SearchGet)
		logs.GET("/job/:jobId/summary", logHandler.Summary)
		logs.GET("/job/:jobId/levels", logHandler.Levels)
		logs.GET("/job/:jobId/timeline", logHandler.Timeline)
		logs.GET("/job/:jobId/fields", logHandler.Fields)
		logs.GET("/job/:jobId/fields/:field", logHandler.FieldValues)
		logs.GET("/job/:jobId/context/:lineNumber", logHandler.Context)
		logs.POST("/job/:jobId/export", logHandler.Export)
		logs.GET("/job/:jobId/export", logHandler.Export)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Shutdown drains the worker pool so in-flight jobs finish.
func (s *Server) Shutdown() {
	s.controller.Stop()
}
