package imagegen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulmine-labs/sparks/internal/poll"
)

type mockBackend struct {
	mu       sync.Mutex
	submit   *Prediction
	steps    []*Prediction
	err      error
	gets     int
	inputs   []map[string]any
	modelRef string
}

func (m *mockBackend) Submit(ctx context.Context, modelRef string, input map[string]any) (*Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelRef = modelRef
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	return m.submit, nil
}

func (m *mockBackend) Get(ctx context.Context, id string) (*Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gets >= len(m.steps) {
		return m.steps[len(m.steps)-1], nil
	}
	p := m.steps[m.gets]
	m.gets++
	return p, nil
}

var fastPolicy = poll.Policy{Interval: time.Millisecond, Timeout: time.Second}

var testModel = Model{Name: "stable-diffusion", Version: "stability-ai/stable-diffusion:abc"}

func TestGenerateSucceeds(t *testing.T) {
	b := &mockBackend{
		submit: &Prediction{ID: "p1", Status: StatusStarting},
		steps: []*Prediction{
			{ID: "p1", Status: StatusProcessing},
			{ID: "p1", Status: StatusSucceeded, Output: []string{"https://a/1.png"}},
		},
	}
	g := New(b, fastPolicy)

	urls, err := g.Generate(context.Background(), testModel, Params{Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a/1.png"}, urls)
	assert.Equal(t, 2, b.gets)
	assert.Equal(t, testModel.Version, b.modelRef)

	input := b.inputs[0]
	assert.Equal(t, "a cat", input["prompt"])
	assert.Equal(t, DefaultNumOutputs, input["num_outputs"])
	assert.Equal(t, DefaultGuidanceScale, input["guidance_scale"])
	assert.Equal(t, DefaultNumInferenceSteps, input["num_inference_steps"])
}

func TestGenerateTerminalOnSubmit(t *testing.T) {
	b := &mockBackend{
		submit: &Prediction{ID: "p1", Status: StatusSucceeded, Output: []string{"u"}},
		steps:  []*Prediction{{ID: "p1", Status: StatusFailed}},
	}
	g := New(b, fastPolicy)

	urls, err := g.Generate(context.Background(), testModel, Params{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u"}, urls)
	assert.Zero(t, b.gets)
}

func TestGenerateFailures(t *testing.T) {
	var tests = []struct {
		name  string
		final *Prediction
		msg   string
	}{
		{"failed with message", &Prediction{ID: "p", Status: StatusFailed, Error: "NSFW"}, "NSFW"},
		{"canceled", &Prediction{ID: "p", Status: StatusCanceled}, "canceled"},
		{"no output", &Prediction{ID: "p", Status: StatusSucceeded}, "no output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &mockBackend{
				submit: &Prediction{ID: "p", Status: StatusStarting},
				steps:  []*Prediction{tt.final},
			}
			_, err := New(b, fastPolicy).Generate(context.Background(), testModel, Params{Prompt: "x"})
			assert.ErrorIs(t, err, ErrGenerationFailed)
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	b := &mockBackend{
		submit: &Prediction{ID: "p", Status: StatusStarting},
		steps:  []*Prediction{{ID: "p", Status: StatusProcessing}},
	}
	g := New(b, poll.Policy{Interval: time.Millisecond, MaxAttempts: 3})

	_, err := g.Generate(context.Background(), testModel, Params{Prompt: "x"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGenerateCancelled(t *testing.T) {
	b := &mockBackend{
		submit: &Prediction{ID: "p", Status: StatusStarting},
		steps:  []*Prediction{{ID: "p", Status: StatusProcessing}},
	}
	g := New(b, poll.Policy{Interval: 5 * time.Millisecond, Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Generate(ctx, testModel, Params{Prompt: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateSubmitError(t *testing.T) {
	b := &mockBackend{err: errors.New("boom")}
	_, err := New(b, fastPolicy).Generate(context.Background(), testModel, Params{Prompt: "x"})
	assert.ErrorContains(t, err, "boom")
}

func TestGenerateNotConfigured(t *testing.T) {
	g := New(nil, poll.Policy{})
	assert.False(t, g.Configured())

	_, err := g.Generate(context.Background(), testModel, Params{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDownloaderFetch(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.png") {
			http.NotFound(w, r)
			return
		}
		w.Write(png)
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/0.png", srv.URL + "/missing.png", srv.URL + "/2.png"}
	images := NewDownloader(time.Second).Fetch(context.Background(), urls)
	require.Len(t, images, 3)
	assert.Equal(t, png, images[0])
	assert.Nil(t, images[1])
	assert.Equal(t, png, images[2])

	encoded := EncodeBase64(images, urls)
	assert.True(t, strings.HasPrefix(encoded[0], "data:image/png;base64,"))
	assert.Equal(t, "", encoded[1])
	assert.NotEmpty(t, encoded[2])
}

func TestCatalog(t *testing.T) {
	c, err := NewCatalog(DefaultModels())
	require.NoError(t, err)

	m, err := c.Get("")
	require.NoError(t, err)
	assert.Equal(t, "seedream-4.5", m.Name)

	m, err = c.Get("stable-diffusion")
	require.NoError(t, err)
	assert.True(t, m.PriceUSD.Equal(decimal.RequireFromString("0.04")))

	_, err = c.Get("dall-e")
	assert.ErrorIs(t, err, ErrUnknownModel)

	priced, err := c.WithPrices(map[string]decimal.Decimal{
		"nano-banana": decimal.RequireFromString("0.15"),
	})
	require.NoError(t, err)
	m, _ = priced.Get("nano-banana")
	assert.Equal(t, "0.15", m.PriceUSD.String())

	m, _ = c.Get("nano-banana")
	assert.Equal(t, "0.04", m.PriceUSD.String())

	_, err = c.WithPrices(map[string]decimal.Decimal{"nope": decimal.Zero})
	assert.Error(t, err)
}

func TestNewCatalogValidation(t *testing.T) {
	_, err := NewCatalog(nil)
	assert.Error(t, err)

	_, err = NewCatalog([]Model{{Name: "a"}})
	assert.Error(t, err)

	_, err = NewCatalog([]Model{{Name: "a", Version: "o/a"}, {Name: "a", Version: "o/b"}})
	assert.Error(t, err)

	_, err = NewCatalog([]Model{{Name: "a", Version: "o/a", PriceUSD: decimal.NewFromInt(-1)}})
	assert.Error(t, err)
}
