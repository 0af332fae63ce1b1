package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"briefline/internal/bus"
	"briefline/internal/metrics"
	"briefline/internal/orchestrator"
	"briefline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	Bus          *bus.Registry
	Metrics      *metrics.Metrics
	BasePath     string
	Log          *slog.Logger
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"job not found"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the briefline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Briefline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := &server{cfg: cfg}
	registerHealth(group)
	s.registerJobs(group)
	s.registerStream(group)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return router, nil
}

type server struct {
	cfg Config
}

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: codeForStatus(status), Message: message},
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_request"
	default:
		return "internal_error"
	}
}

// mapStoreErr converts persistence errors to API errors.
func mapStoreErr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return huma.Error404NotFound(what + " not found")
	}
	return err
}

func registerHealth(group *huma.Group) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		}
	}
	huma.Register(group, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})
}
