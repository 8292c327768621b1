package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fulmine-labs/sparks/internal/service"
)

const maxRequestBytes = 64 * 1024

type handlers struct {
	config  Config
	svc     *service.Service
	version string
	mounted []route
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	jsonb, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal resp: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonb)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRejected writes the moderation rejection body. prompt is omitted
// when empty.
func writeRejected(w http.ResponseWriter, modErr *service.ModerationError, prompt string) {
	body := map[string]any{
		"status": "rejected",
		"reason": modErr.Reason,
		"score":  modErr.Score,
	}
	if prompt != "" {
		body["prompt"] = prompt
	}
	writeJSON(w, http.StatusBadRequest, body)
}

// writeServiceError maps the service error taxonomy onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		modErr *service.ModerationError
		payErr *service.PaymentError
	)
	switch {
	case errors.As(err, &modErr):
		writeRejected(w, modErr, "")
	case errors.As(err, &payErr):
		if payErr.Expired {
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"status":       service.StatusExpired,
				"payment_hash": payErr.Invoice.PaymentHash,
				"error":        err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"status":  service.StatusPaymentNeeded,
			"invoice": payErr.Invoice,
		})
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("err: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// outcome labels err for metrics.
func outcome(err error) string {
	var (
		modErr *service.ModerationError
		payErr *service.PaymentError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &modErr):
		return "rejected"
	case errors.As(err, &payErr) && payErr.Expired:
		return "expired"
	case errors.As(err, &payErr):
		return "payment_required"
	case errors.Is(err, service.ErrValidation):
		return "invalid"
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	case errors.Is(err, service.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// handleRoot describes the service and lists its endpoints.
func (h *handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := make(map[string]string, len(h.mounted))
	for _, rt := range h.mounted {
		endpoints[rt.String()] = rt.description
	}

	mode := "free"
	if h.svc.PaidMode() {
		mode = "lightning"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":   h.config.ServiceName,
		"version":   h.version,
		"mode":      mode,
		"endpoints": endpoints,
	})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"service":    h.config.ServiceName,
		"timestamp":  time.Now().UTC(),
		"components": h.svc.Components(),
	})
}

func (h *handlers) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":    h.svc.Models(),
		"timestamp": time.Now().UTC(),
	})
}

func (h *handlers) handlePrice(w http.ResponseWriter, r *http.Request) {
	var (
		ctx        = r.Context()
		model      = r.URL.Query().Get("model")
		numOutputs = 0
	)

	if s := r.URL.Query().Get("num_outputs"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "num_outputs must be an integer")
			return
		}
		numOutputs = n
	}

	quote, err := h.svc.Quote(ctx, model, numOutputs)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// handleGenerate answers 200 with the images in free mode and 402 with an
// invoice in paid mode.
func (h *handlers) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req service.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "expected JSON payload")
		return
	}

	resp, err := h.svc.Generate(ctx, req)
	generationCounter.WithLabelValues(h.modelLabel(req.Model), outcome(err)).Inc()
	if err != nil {
		var modErr *service.ModerationError
		if errors.As(err, &modErr) {
			moderationRejections.Inc()
			writeRejected(w, modErr, req.Prompt)
			return
		}
		writeServiceError(w, err)
		return
	}

	if resp.Invoice != nil {
		invoiceCounter.Inc()
		writeJSON(w, http.StatusPaymentRequired, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context()
		hash = chi.URLParam(r, "payment_hash")
	)

	resp, err := h.svc.Retrieve(ctx, hash)
	retrievalCounter.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context()
		hash = chi.URLParam(r, "payment_hash")
	)

	status, err := h.svc.InvoiceStatus(ctx, hash)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *handlers) handleModerationCheck(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req struct {
		Prompt    string   `json:"prompt"`
		Threshold *float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "expected JSON payload")
		return
	}

	res, err := h.svc.Moderate(req.Prompt, req.Threshold)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prompt":    req.Prompt,
		"is_safe":   res.Safe,
		"score":     res.Score,
		"reason":    res.Reason,
		"threshold": res.Threshold,
		"timestamp": time.Now().UTC(),
	})
}

// modelLabel bounds the label set to catalog names.
func (h *handlers) modelLabel(requested string) string {
	models := h.svc.Models()
	if requested == "" {
		return models[0].Name
	}
	for _, m := range models {
		if m.Name == requested {
			return m.Name
		}
	}
	return "unknown"
}
