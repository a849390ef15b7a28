package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"stereomeasure/internal/config"
	"stereomeasure/internal/logger"
	"stereomeasure/internal/metrics"
	"stereomeasure/internal/repository/sqlite"
	"stereomeasure/internal/route"
	"stereomeasure/internal/service"
	"stereomeasure/internal/service/ai"
	"stereomeasure/internal/service/camera"
	"stereomeasure/internal/service/storage"
	"stereomeasure/internal/service/websocket"
	"stereomeasure/internal/stereo"
)

type App struct {
	config    *config.Config
	logger    *logger.Logger
	db        *sqlite.DB
	detectors []*ai.DetectorService
	hub       *websocket.HubService
	manager   *service.Manager
	server    *http.Server
}

// NewApp wires config, logging, storage, detectors and the HTTP layer together.
func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	cal, err := cfg.Calibration()
	if err != nil {
		return nil, err
	}
	mode, err := stereo.ParseMatchMode(cfg.MatchMode)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	runRepo := sqlite.NewRunRepository(db)
	measurementRepo := sqlite.NewMeasurementRepository(db)

	// Each worker gets its own pair of networks
	workers := max(1, cfg.ProcessingWorkers)
	detectors := make([]*ai.DetectorService, 0, 2*workers)
	pairs := make([]service.DetectorPair, 0, workers)
	for i := 0; i < workers; i++ {
		left := ai.NewDetectorService(cfg, log)
		right := ai.NewDetectorService(cfg, log)
		detectors = append(detectors, left, right)
		pairs = append(pairs, service.DetectorPair{Left: left, Right: right})
	}
	if !detectors[0].Ready() {
		log.Warning("No detection model loaded from %s, measurements will fail until it is installed", cfg.ModelPath)
	}

	m := metrics.New()
	hub := websocket.NewHubService(log)
	results := storage.NewResultService(cfg, log, runRepo, measurementRepo)
	mng := service.NewManager(pairs, camera.NewCaptureService(cfg, log), results, hub,
		stereo.NewPipeline(cal, mode), m, cfg, log)

	router := route.SetupRoutes(route.Dependencies{
		Config:          cfg,
		Logger:          log,
		Manager:         mng,
		Hub:             hub,
		Results:         results,
		RunRepo:         runRepo,
		MeasurementRepo: measurementRepo,
		Metrics:         m,
	})

	return &App{
		config:    cfg,
		logger:    log,
		db:        db,
		detectors: detectors,
		hub:       hub,
		manager:   mng,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	a.logger.Info("Stereo measurement server on http://localhost:%d", a.config.Port)
	a.logger.Info("Images: %s, database: %s", a.config.ImageDirectory, a.config.DatabasePath)
	a.logger.Info("Model: %s (%s)", a.config.ModelPath, a.config.ModelFormat)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = a.server.Shutdown(shutdownCtx)
		cancel()
	}

	a.manager.Stop()
	stopHub()
	for _, d := range a.detectors {
		d.Close()
	}
	a.db.Close()
	a.logger.Close()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
