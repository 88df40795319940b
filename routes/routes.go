package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/model-control-plane/app"
	"github.com/upb/model-control-plane/middleware"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

const modelPath = "/{name}/{flavor}/{version_or_alias}"

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)
	if deps.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", deps.Prometheus.Handler())
	}

	// Password endpoints verify the credentials themselves
	r.Post("/token", deps.AuthHandler.HandleIssueToken)
	r.Post("/password/verify", deps.AuthHandler.HandleVerifyPassword)

	gate := deps.Gate.Require

	r.Route("/users", func(r chi.Router) {
		r.With(deps.AuthMiddleware.RequirePassword, gate(middleware.OpIssueAPIKey)).
			Put("/api_key/issue/{username}", deps.UserHandler.HandleIssueAPIKey)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireKeyOrToken)
			r.With(gate(middleware.OpCreateUser)).Post("/create", deps.UserHandler.HandleCreateUser)
			r.With(gate(middleware.OpDeleteUser)).Delete("/delete/{username}", deps.UserHandler.HandleDeleteUser)
			r.With(gate(middleware.OpIssuePassword)).Put("/password/issue/{username}", deps.UserHandler.HandleIssuePassword)
			r.With(gate(middleware.OpGetRole)).Get("/role/{username}", deps.UserHandler.HandleGetRole)
			r.With(gate(middleware.OpUpdateRole)).Put("/role/{username}", deps.UserHandler.HandleUpdateRole)
			r.With(gate(middleware.OpListUsers)).Get("/list", deps.UserHandler.HandleListUsers)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireKeyOrToken)

		r.Route("/models", func(r chi.Router) {
			r.With(gate(middleware.OpLoadModel)).Post("/load"+modelPath, deps.ModelHandler.HandleLoadModel)
			r.With(gate(middleware.OpListModels)).Get("/list", deps.ModelHandler.HandleListModels)
			r.With(gate(middleware.OpUnloadModel)).Delete("/unload"+modelPath, deps.ModelHandler.HandleUnloadModel)
			r.With(gate(middleware.OpPredict), deps.RateLimiter.Limit).Post("/predict"+modelPath, deps.ModelHandler.HandlePredict)
		})

		r.With(gate(middleware.OpReset)).Post("/reset", deps.SystemHandler.HandleReset)
		r.With(gate(middleware.OpResourceUsage)).Get("/system/resource-usage", deps.SystemHandler.HandleResourceUsage)

		r.Route("/data", func(r chi.Router) {
			r.With(gate(middleware.OpUploadData)).Post("/upload", deps.DataHandler.HandleUpload)
			r.With(gate(middleware.OpDownloadData)).Post("/download", deps.DataHandler.HandleDownload)
			r.With(gate(middleware.OpListData)).Post("/list", deps.DataHandler.HandleList)
		})

		r.Route("/variable-store", func(r chi.Router) {
			r.Use(gate(middleware.OpVariables))
			r.Post("/get", deps.VariableHandler.HandleGet)
			r.Get("/list", deps.VariableHandler.HandleList)
			r.Post("/set", deps.VariableHandler.HandleSet)
			r.Post("/delete", deps.VariableHandler.HandleDelete)
		})

		r.With(gate(middleware.OpListAuditLogs)).Get("/audit/logs", deps.AuditHandler.HandleListAuditLogs)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "not_found", "endpoint not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	if ops := deps.Gate.Unenforced(); len(ops) > 0 {
		deps.Logger.Warn("policy operations without a route", zap.Any("operations", ops))
	}

	return r
}
