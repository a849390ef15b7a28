package route

import (
	"net/http"
	"os"
	"path/filepath"

	"stereomeasure/internal/config"
	"stereomeasure/internal/handler"
	"stereomeasure/internal/logger"
	"stereomeasure/internal/metrics"
	"stereomeasure/internal/middleware"
	"stereomeasure/internal/repository"
	"stereomeasure/internal/service"
	"stereomeasure/internal/service/storage"
)

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Config          *config.Config
	Logger          *logger.Logger
	Manager         *service.Manager
	Hub             handler.ViewerRegistry
	Results         *storage.ResultService
	RunRepo         repository.RunRepository
	MeasurementRepo repository.MeasurementRepository
	Metrics         *metrics.Metrics
}

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean("/"+path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the authentication middleware.
func SetupRoutes(d Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// Measurement API
	mux.HandleFunc("/api/measure", handler.MeasureHandler(d.Manager, d.Logger))
	mux.HandleFunc("/api/session", handler.SessionHandler(d.Manager, d.Logger))
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(d.Hub, d.Logger))

	// Stored runs
	mux.HandleFunc("/api/runs", handler.GetRunsHandler(d.Logger, d.RunRepo, d.MeasurementRepo))
	mux.HandleFunc("/api/runs/report", handler.RunReportHandler(d.Logger, d.Results))
	mux.HandleFunc("/api/runs/image", handler.RunImageHandler(d.Logger, d.Results))
	mux.HandleFunc("/api/runs/delete", handler.DeleteRunHandler(d.Logger, d.Results))
	mux.HandleFunc("/api/runs/clear", handler.ClearRunsHandler(d.Logger, d.Results))

	mux.Handle("/metrics", d.Metrics.Handler())

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowLogsHandler(d.Logger, logger.InfoFile))
	mux.HandleFunc("/logs/warning", handler.ShowLogsHandler(d.Logger, logger.WarningFile))
	mux.HandleFunc("/logs/error", handler.ShowLogsHandler(d.Logger, logger.ErrorFile))

	mux.HandleFunc("/logs/info/clear", handler.ClearLogsHandler(d.Logger, logger.InfoFile))
	mux.HandleFunc("/logs/warning/clear", handler.ClearLogsHandler(d.Logger, logger.WarningFile))
	mux.HandleFunc("/logs/error/clear", handler.ClearLogsHandler(d.Logger, logger.ErrorFile))

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(d.Config, d.Logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Automatic HTML handler mapping for example: /runs -> /static/runs.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	return middleware.AuthMiddleware(mux)
}
