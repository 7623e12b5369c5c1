package http

import (
	"encoding/json"
	"errors"
	"net/http"

	alertapp "hazardwatch/internal/alerts/application"
)

// EngineStatusHandler exposes engine health.
type EngineStatusHandler struct {
	engine *alertapp.Engine
}

// NewEngineStatusHandler constructs a handler.
func NewEngineStatusHandler(engine *alertapp.Engine) (*EngineStatusHandler, error) {
	if engine == nil {
		return nil, errors.New("status handler: nil engine")
	}
	return &EngineStatusHandler{engine: engine}, nil
}

// ServeHTTP handles GET /api/v1/engine/status.
func (h *EngineStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.engine.Status())
}
