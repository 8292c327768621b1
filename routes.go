package main

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// route is one entry of the API surface. The table is validated before
// anything is mounted so a bad entry fails startup instead of a request.
type route struct {
	method      string
	pattern     string
	description string
	handler     http.Handler
}

func (r route) String() string {
	return r.method + " " + r.pattern
}

func (h *handlers) routes() []route {
	api := func(p string) string {
		return path.Join("/", h.config.APIPath, p)
	}

	return []route{
		{http.MethodGet, "/", "service info", http.HandlerFunc(h.handleRoot)},
		{http.MethodGet, "/health", "component health", http.HandlerFunc(h.handleHealth)},
		{http.MethodGet, api("/services/image/models"), "available models", http.HandlerFunc(h.handleModels)},
		{http.MethodGet, api("/services/image/price"), "price quote in sats", http.HandlerFunc(h.handlePrice)},
		{http.MethodPost, api("/services/image/generate"), "generate images", http.HandlerFunc(h.handleGenerate)},
		{http.MethodGet, api("/services/image/retrieve/{payment_hash}"), "retrieve paid images", http.HandlerFunc(h.handleRetrieve)},
		{http.MethodGet, api("/invoices/{payment_hash}"), "invoice status", http.HandlerFunc(h.handleInvoiceStatus)},
		{http.MethodPost, api("/moderation/check"), "score a prompt", http.HandlerFunc(h.handleModerationCheck)},
		{http.MethodGet, "/metrics", "prometheus metrics", promhttp.Handler()},
	}
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func validateRoutes(routes []route) error {
	seen := make(map[string]bool, len(routes))
	for _, rt := range routes {
		if !allowedMethods[rt.method] {
			return fmt.Errorf("route %v: unsupported method", rt)
		}
		if !strings.HasPrefix(rt.pattern, "/") || strings.ContainsAny(rt.pattern, " \t\n") {
			return fmt.Errorf("route %v: invalid pattern", rt)
		}
		if strings.Count(rt.pattern, "{") != strings.Count(rt.pattern, "}") {
			return fmt.Errorf("route %v: unbalanced url param", rt)
		}
		if rt.handler == nil {
			return fmt.Errorf("route %v: nil handler", rt)
		}
		if seen[rt.String()] {
			return fmt.Errorf("route %v: duplicate", rt)
		}
		seen[rt.String()] = true
	}
	return nil
}

func mount(r chi.Router, routes []route) error {
	if err := validateRoutes(routes); err != nil {
		return err
	}
	for _, rt := range routes {
		r.Method(rt.method, rt.pattern, rt.handler)
	}
	return nil
}
