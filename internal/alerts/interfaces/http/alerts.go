package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	alertapp "hazardwatch/internal/alerts/application"
	alerts "hazardwatch/internal/alerts/domain"
	"hazardwatch/internal/auth"
	hazards "hazardwatch/internal/hazards/domain"
)

const timeLayout = time.RFC3339

// AlertsHandler serves alert query and acknowledgement endpoints.
type AlertsHandler struct {
	service *alertapp.AlertService
}

// NewAlertsHandler constructs a handler.
func NewAlertsHandler(service *alertapp.AlertService) (*AlertsHandler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	return &AlertsHandler{service: service}, nil
}

// ServeHTTP handles /api/v1/alerts and subroutes.
func (h *AlertsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alerts":
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		h.handleAction(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *AlertsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	query := alertapp.AlertQuery{
		AlertType: hazards.HazardType(r.URL.Query().Get("type")),
		Severity:  hazards.Severity(r.URL.Query().Get("severity")),
		Contains:  r.URL.Query().Get("contains"),
	}
	if query.AlertType != "" && !query.AlertType.Valid() {
		http.Error(w, "invalid type", http.StatusBadRequest)
		return
	}
	if query.Severity != "" && !query.Severity.Valid() {
		http.Error(w, "invalid severity", http.StatusBadRequest)
		return
	}
	var err error
	if query.From, err = parseOptionalTime(r, "from"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if query.To, err = parseOptionalTime(r, "to"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !query.From.IsZero() && !query.To.IsZero() && !query.To.After(query.From) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	list, err := h.service.List(r.Context(), query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *AlertsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input alertapp.ManualAlertInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	alert, err := h.service.CreateManual(r.Context(), input, auth.SubjectFromContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(alert)
}

func (h *AlertsHandler) handleAction(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	parts := strings.Split(path, "/")

	if len(parts) == 1 && parts[0] != "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, parts[0])
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := parts[0]
	switch parts[1] {
	case "ack":
		h.handleAck(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *AlertsHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	alert, err := h.service.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if alert == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alert)
}

func (h *AlertsHandler) handleAck(w http.ResponseWriter, r *http.Request, id string) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == "" {
		subject = "operator"
	}
	if err := h.service.Acknowledge(r.Context(), id, subject); err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseOptionalTime(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
