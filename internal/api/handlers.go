package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/metric"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/producerconfig"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/usecase"
)

type Handlers struct {
	queryMetricsUC *usecase.QueryMetrics
	getSummaryUC   *usecase.GetSummary
	getConfigUC    *usecase.GetProducerConfig
	updateConfigUC *usecase.UpdateProducerConfig
	log            *slog.Logger
}

func NewHandlers(
	queryMetricsUC *usecase.QueryMetrics,
	getSummaryUC *usecase.GetSummary,
	getConfigUC *usecase.GetProducerConfig,
	updateConfigUC *usecase.UpdateProducerConfig,
	log *slog.Logger,
) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		queryMetricsUC: queryMetricsUC,
		getSummaryUC:   getSummaryUC,
		getConfigUC:    getConfigUC,
		updateConfigUC: updateConfigUC,
		log:            log,
	}
}

var errBadQuery = errors.New("bad query parameter")

// ListMetrics serves GET /api/metrics?from&to&sensorId&limit&offset.
func (h *Handlers) ListMetrics(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.queryMetricsUC.Execute(r.Context(), usecase.QueryMetricsParams{
		From:     f.From,
		To:       f.To,
		SensorID: f.SensorID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// Summary serves GET /api/metrics/summary?from&to&sensorId.
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s, err := h.getSummaryUC.Execute(r.Context(), f)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) GetProducerConfig(w http.ResponseWriter, r *http.Request) {
	c, err := h.getConfigUC.Execute(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) UpdateProducerConfig(w http.ResponseWriter, r *http.Request) {
	var req producerconfig.Config
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := h.updateConfigUC.Execute(r.Context(), req)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error("Request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseFilter(r *http.Request) (metric.Filter, error) {
	q := r.URL.Query()
	f := metric.Filter{SensorID: q.Get("sensorId")}

	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return metric.Filter{}, fmt.Errorf("%w: %s must be an RFC 3339 time", errBadQuery, name)
		}
		*dst = &t
	}
	return f, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadQuery, name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
