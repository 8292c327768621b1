package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulmine-labs/sparks/internal/payment/ln/mock"
	"github.com/fulmine-labs/sparks/internal/service"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// newUpstream fakes both the prediction API and the image host.
func newUpstream(t *testing.T) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/predictions"):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"id":"p1","status":"succeeded","output":["%s/out/0.png"]}`, srv.URL)
		case r.URL.Path == "/out/0.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, cfg Config) (http.Handler, *app) {
	upstream := newUpstream(t)

	cfg.ReplicateAPIToken = "r8_test"
	cfg.ReplicateBaseURL = upstream.URL
	cfg.BTCPriceUSD = "42000"
	cfg.GenerationPollInterval = time.Millisecond
	cfg.GenerationTimeout = time.Second
	cfg.LedgerDB = filepath.Join(t.TempDir(), "ledger.db")
	cfg.applyDefaults()

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	r, err := newRouter(&handlers{config: cfg, svc: a.svc, version: "test"})
	require.NoError(t, err)

	return r, a
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestFreeModeGenerate(t *testing.T) {
	h, _ := newTestServer(t, Config{})

	rec, body := do(t, h, http.MethodPost, "/api/v1/services/image/generate", `{"prompt":"a lighthouse at dusk"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.StatusCompleted, body["status"])
	assert.Equal(t, "seedream-4.5", body["model"])
	assert.Len(t, body["image_urls"], 1)

	images := body["image_base64"].([]any)
	require.Len(t, images, 1)
	assert.True(t, strings.HasPrefix(images[0].(string), "data:image/png;base64,"))

	// Nothing to retrieve without payments.
	rec, _ = do(t, h, http.MethodGet, "/api/v1/services/image/retrieve/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaidModeFlow(t *testing.T) {
	h, a := newTestServer(t, Config{LightningProvider: "mock"})
	ln := a.ln.(*mock.Client)

	rec, body := do(t, h, http.MethodPost, "/api/v1/services/image/generate", `{"prompt":"a lighthouse at dusk","num_outputs":1}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, service.StatusPaymentNeeded, body["status"])
	assert.Nil(t, body["image_urls"])
	assert.Nil(t, body["image_base64"])

	invoice := body["invoice"].(map[string]any)
	hash := invoice["payment_hash"].(string)
	assert.EqualValues(t, 119, invoice["amount_sats"])
	assert.Equal(t, "/api/v1/services/image/retrieve/"+hash, body["retrieve_url"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/services/image/retrieve/"+hash, "")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, service.StatusPaymentNeeded, body["status"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/invoices/"+hash, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["settled"])
	assert.Equal(t, "pending", body["status"])

	require.NoError(t, ln.Settle(hash))

	rec, body = do(t, h, http.MethodGet, "/api/v1/services/image/retrieve/"+hash, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.StatusSuccess, body["status"])
	assert.Equal(t, hash, body["payment_hash"])
	images := body["image_base64"].([]any)
	require.Len(t, images, 1)
	assert.True(t, strings.HasPrefix(images[0].(string), "data:image/png;base64,"))

	rec, body = do(t, h, http.MethodGet, "/api/v1/invoices/"+hash, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["settled"])
}

func TestRetrieveExpired(t *testing.T) {
	h, _ := newTestServer(t, Config{LightningProvider: "mock", InvoiceExpiry: time.Millisecond})

	rec, body := do(t, h, http.MethodPost, "/api/v1/services/image/generate", `{"prompt":"a lighthouse at dusk"}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	hash := body["invoice"].(map[string]any)["payment_hash"].(string)

	time.Sleep(10 * time.Millisecond)

	rec, body = do(t, h, http.MethodGet, "/api/v1/services/image/retrieve/"+hash, "")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, service.StatusExpired, body["status"])
}

func TestRetrieveUnknown(t *testing.T) {
	h, _ := newTestServer(t, Config{LightningProvider: "mock"})

	var tests = []struct {
		name string
		hash string
	}{
		{"unknown hash", strings.Repeat("ab", 32)},
		{"invalid hash", "not.a.hash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodGet, "/api/v1/services/image/retrieve/"+tt.hash, "")
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGenerateRejected(t *testing.T) {
	h, _ := newTestServer(t, Config{LightningProvider: "mock"})

	var tests = []struct {
		name   string
		body   string
		status int
	}{
		{"not json", `prompt=hi`, http.StatusBadRequest},
		{"empty prompt", `{"prompt":"  "}`, http.StatusBadRequest},
		{"too many outputs", `{"prompt":"cat","num_outputs":5}`, http.StatusBadRequest},
		{"moderated", `{"prompt":"gore and violence with blood"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, h, http.MethodPost, "/api/v1/services/image/generate", tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	_, body := do(t, h, http.MethodPost, "/api/v1/services/image/generate", `{"prompt":"gore and violence with blood"}`)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, "gore and violence with blood", body["prompt"])
	assert.NotZero(t, body["score"])
}

func TestUnknownModel(t *testing.T) {
	h, _ := newTestServer(t, Config{LightningProvider: "mock"})

	var tests = []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"generate", http.MethodPost, "/api/v1/services/image/generate", `{"prompt":"a cat","model":"nope"}`},
		{"price", http.MethodGet, "/api/v1/services/image/price?model=nope", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Contains(t, body["error"], "nope")
		})
	}
}

func TestModerationCheckThreshold(t *testing.T) {
	h, _ := newTestServer(t, Config{})

	var tests = []struct {
		name      string
		body      string
		status    int
		safe      bool
		threshold float64
	}{
		{"configured threshold", `{"prompt":"explicit violence"}`, http.StatusOK, false, 0.15},
		{"lenient threshold", `{"prompt":"explicit violence","threshold":0.9}`, http.StatusOK, true, 0.9},
		{"strict threshold", `{"prompt":"explicit violence","threshold":0.01}`, http.StatusOK, false, 0.01},
		{"threshold out of range", `{"prompt":"explicit violence","threshold":2}`, http.StatusBadRequest, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPost, "/api/v1/moderation/check", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			assert.Equal(t, tt.safe, body["is_safe"])
			assert.Equal(t, tt.threshold, body["threshold"])
		})
	}
}

func TestWriteRejected(t *testing.T) {
	modErr := &service.ModerationError{Score: 0.4, Reason: "flagged"}

	var tests = []struct {
		name   string
		write  func(w http.ResponseWriter)
		prompt any
	}{
		{"generate", func(w http.ResponseWriter) { writeRejected(w, modErr, "gore") }, "gore"},
		{"service error", func(w http.ResponseWriter) { writeServiceError(w, fmt.Errorf("wrapped: %w", modErr)) }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "rejected", body["status"])
			assert.Equal(t, "flagged", body["reason"])
			assert.Equal(t, 0.4, body["score"])
			assert.Equal(t, tt.prompt, body["prompt"])
		})
	}
}

func TestInfoEndpoints(t *testing.T) {
	h, _ := newTestServer(t, Config{LightningProvider: "mock"})

	rec, body := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	components := body["components"].(map[string]any)
	assert.Equal(t, "ready", components["moderation"])
	assert.Equal(t, "ready", components["image_generation"])
	assert.Equal(t, "mock", components["lightning_payment"])
	assert.Equal(t, "memory", components["storage"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/services/image/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["models"], 3)

	rec, body = do(t, h, http.MethodGet, "/api/v1/services/image/price?model=stable-diffusion&num_outputs=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 476, body["total_sats"])

	rec, _ = do(t, h, http.MethodGet, "/api/v1/services/image/price?num_outputs=lots", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h, http.MethodPost, "/api/v1/moderation/check", `{"prompt":"a kitten"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_safe"])

	rec, body = do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lightning", body["mode"])
	assert.Contains(t, body["endpoints"], "POST /api/v1/services/image/generate")
}

func TestValidateRoutes(t *testing.T) {
	ok := http.NotFoundHandler()

	var tests = []struct {
		name   string
		routes []route
		valid  bool
	}{
		{"valid", []route{{http.MethodGet, "/a/{id}", "", ok}, {http.MethodPost, "/a/{id}", "", ok}}, true},
		{"bad method", []route{{"FETCH", "/a", "", ok}}, false},
		{"relative pattern", []route{{http.MethodGet, "a", "", ok}}, false},
		{"unbalanced param", []route{{http.MethodGet, "/a/{id", "", ok}}, false},
		{"nil handler", []route{{http.MethodGet, "/a", "", nil}}, false},
		{"duplicate", []route{{http.MethodGet, "/a", "", ok}, {http.MethodGet, "/a", "", ok}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRoutes(tt.routes)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
