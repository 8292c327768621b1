package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fulmine-labs/sparks/internal/imagegen"
	"github.com/fulmine-labs/sparks/internal/moderation"
	"github.com/fulmine-labs/sparks/internal/payment"
	"github.com/fulmine-labs/sparks/internal/priceoracle"
	"github.com/fulmine-labs/sparks/internal/pricing"
	"github.com/fulmine-labs/sparks/internal/storage"
)

const (
	DefaultMaxPromptLength = 1000

	MinNumOutputs        = 1
	MaxNumOutputs        = 4
	MinGuidanceScale     = 1.0
	MaxGuidanceScale     = 20.0
	MinInferenceSteps    = 10
	MaxInferenceSteps    = 100
	StatusCompleted      = "completed"
	StatusPaymentNeeded  = "payment_required"
	StatusExpired        = "expired"
	StatusSuccess        = "success"
	componentReady       = "ready"
	componentDisabled    = "disabled"
	componentUnavailable = "not_configured"
)

type Config struct {
	MaxPromptLength   int
	ModerationEnabled bool
	ReturnBase64      bool
	ResultTTL         time.Duration
	// RetrieveBase prefixes payment hashes in retrieve_url.
	RetrieveBase string
	StorageName  string
}

type Moderator interface {
	Check(text string) moderation.Result
	CheckWithThreshold(text string, threshold float64) moderation.Result
}

type ImageGenerator interface {
	Configured() bool
	Generate(ctx context.Context, model imagegen.Model, p imagegen.Params) ([]string, error)
}

type Downloader interface {
	Fetch(ctx context.Context, urls []string) [][]byte
}

type PriceOracle interface {
	Price(ctx context.Context) priceoracle.Quote
}

type Payments interface {
	CreateInvoice(ctx context.Context, req payment.CreateRequest) (*payment.Invoice, error)
	GetInvoice(ctx context.Context, paymentHash string) (*payment.Invoice, error)
	Status(invoice *payment.Invoice) payment.Status
	Provider() string
}

type Service struct {
	cfg     Config
	catalog *imagegen.Catalog
	mod     Moderator
	gen     ImageGenerator
	dl      Downloader
	oracle  PriceOracle
	pay     Payments
	store   storage.Store
}

// New wires the pipeline. A nil pay runs the service in free mode: images
// are returned directly and nothing is persisted.
func New(cfg Config, catalog *imagegen.Catalog, mod Moderator, gen ImageGenerator, dl Downloader, oracle PriceOracle, pay Payments, store storage.Store) (*Service, error) {
	if catalog == nil || mod == nil || gen == nil || dl == nil || oracle == nil {
		return nil, fmt.Errorf("service: missing dependency")
	}
	if pay != nil && store == nil {
		return nil, fmt.Errorf("service: payments require a result store")
	}
	if cfg.MaxPromptLength <= 0 {
		cfg.MaxPromptLength = DefaultMaxPromptLength
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = storage.DefaultTTL
	}

	return &Service{
		cfg:     cfg,
		catalog: catalog,
		mod:     mod,
		gen:     gen,
		dl:      dl,
		oracle:  oracle,
		pay:     pay,
		store:   store,
	}, nil
}

func (s *Service) PaidMode() bool {
	return s.pay != nil
}

func (s *Service) Models() []imagegen.Model {
	return s.catalog.List()
}

// Components reports the state of each pipeline stage for health checks.
func (s *Service) Components() map[string]string {
	c := map[string]string{
		"moderation":        componentReady,
		"image_generation":  componentReady,
		"lightning_payment": componentDisabled,
		"storage":           componentDisabled,
	}
	if !s.cfg.ModerationEnabled {
		c["moderation"] = componentDisabled
	}
	if !s.gen.Configured() {
		c["image_generation"] = componentUnavailable
	}
	if s.pay != nil {
		c["lightning_payment"] = s.pay.Provider()
	}
	if s.store != nil {
		c["storage"] = s.cfg.StorageName
		if c["storage"] == "" {
			c["storage"] = componentReady
		}
	}
	return c
}

type QuoteResponse struct {
	Model string `json:"model"`
	pricing.Pricing
	PriceSource string `json:"btc_price_source"`
}

func (s *Service) Quote(ctx context.Context, modelName string, numOutputs int) (*QuoteResponse, error) {
	if numOutputs == 0 {
		numOutputs = MinNumOutputs
	}
	if numOutputs < MinNumOutputs || numOutputs > MaxNumOutputs {
		return nil, validationErr("num_outputs must be between %d and %d", MinNumOutputs, MaxNumOutputs)
	}

	model, err := s.model(modelName)
	if err != nil {
		return nil, err
	}

	quote := s.oracle.Price(ctx)
	return &QuoteResponse{
		Model:       model.Name,
		Pricing:     pricing.Calculate(numOutputs, model.PriceUSD, quote.USDPerBTC),
		PriceSource: quote.Source,
	}, nil
}

// Moderate scores prompt without generating anything. A nil threshold
// uses the configured one.
func (s *Service) Moderate(prompt string, threshold *float64) (moderation.Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return moderation.Result{}, validationErr("prompt is required")
	}
	if threshold == nil {
		return s.mod.Check(prompt), nil
	}
	if *threshold < 0 || *threshold > 1 {
		return moderation.Result{}, validationErr("threshold must be between 0 and 1")
	}
	return s.mod.CheckWithThreshold(prompt, *threshold), nil
}

// model resolves name against the catalog. An unknown model is ErrNotFound.
func (s *Service) model(name string) (imagegen.Model, error) {
	model, err := s.catalog.Get(name)
	if errors.Is(err, imagegen.ErrUnknownModel) {
		return imagegen.Model{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if err != nil {
		return imagegen.Model{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return model, nil
}

type GenerateRequest struct {
	Prompt            string  `json:"prompt"`
	Model             string  `json:"model"`
	NumOutputs        int     `json:"num_outputs"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	ReturnBase64      *bool   `json:"return_base64"`
}

type GenerateResponse struct {
	Status         string           `json:"status"`
	Prompt         string           `json:"prompt"`
	Model          string           `json:"model"`
	ImageURLs      []string         `json:"image_urls,omitempty"`
	ImageBase64    []string         `json:"image_base64,omitempty"`
	Invoice        *payment.Invoice `json:"invoice,omitempty"`
	Pricing        *pricing.Pricing `json:"pricing,omitempty"`
	RetrieveURL    string           `json:"retrieve_url,omitempty"`
	ProcessingTime float64          `json:"processing_time"`
}

func (s *Service) validate(req *GenerateRequest) (imagegen.Model, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return imagegen.Model{}, validationErr("prompt is required")
	}
	if n := utf8.RuneCountInString(req.Prompt); n > s.cfg.MaxPromptLength {
		return imagegen.Model{}, validationErr("prompt is %d characters, max %d", n, s.cfg.MaxPromptLength)
	}

	if req.NumOutputs == 0 {
		req.NumOutputs = imagegen.DefaultNumOutputs
	}
	if req.NumOutputs < MinNumOutputs || req.NumOutputs > MaxNumOutputs {
		return imagegen.Model{}, validationErr("num_outputs must be between %d and %d", MinNumOutputs, MaxNumOutputs)
	}
	if req.GuidanceScale == 0 {
		req.GuidanceScale = imagegen.DefaultGuidanceScale
	}
	if req.GuidanceScale < MinGuidanceScale || req.GuidanceScale > MaxGuidanceScale {
		return imagegen.Model{}, validationErr("guidance_scale must be between %v and %v", MinGuidanceScale, MaxGuidanceScale)
	}
	if req.NumInferenceSteps == 0 {
		req.NumInferenceSteps = imagegen.DefaultNumInferenceSteps
	}
	if req.NumInferenceSteps < MinInferenceSteps || req.NumInferenceSteps > MaxInferenceSteps {
		return imagegen.Model{}, validationErr("num_inference_steps must be between %d and %d", MinInferenceSteps, MaxInferenceSteps)
	}

	model, err := s.model(req.Model)
	if err != nil {
		return imagegen.Model{}, err
	}
	req.Model = model.Name

	return model, nil
}

// Generate moderates the prompt, runs the generation and, in paid mode,
// stores the images behind a fresh invoice. Nothing is billed for a
// generation that failed.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()

	model, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	if s.cfg.ModerationEnabled {
		if res := s.mod.Check(req.Prompt); !res.Safe {
			log.Printf("service: prompt rejected, score %.2f", res.Score)
			return nil, &ModerationError{Score: res.Score, Reason: res.Reason}
		}
	}

	if !s.gen.Configured() {
		return nil, fmt.Errorf("%w: image generation backend", ErrNotConfigured)
	}

	urls, err := s.gen.Generate(ctx, model, imagegen.Params{
		Prompt:            req.Prompt,
		NumOutputs:        req.NumOutputs,
		GuidanceScale:     req.GuidanceScale,
		NumInferenceSteps: req.NumInferenceSteps,
	})
	if err != nil {
		return nil, generationErr(err)
	}

	resp := &GenerateResponse{
		Prompt: req.Prompt,
		Model:  model.Name,
	}

	if s.pay == nil {
		resp.Status = StatusCompleted
		resp.ImageURLs = urls

		returnBase64 := s.cfg.ReturnBase64
		if req.ReturnBase64 != nil {
			returnBase64 = *req.ReturnBase64
		}
		if returnBase64 {
			resp.ImageBase64 = imagegen.EncodeBase64(s.dl.Fetch(ctx, urls), urls)
		}

		resp.ProcessingTime = time.Since(start).Seconds()
		return resp, nil
	}

	images := s.dl.Fetch(ctx, urls)
	if !anyImage(images) {
		return nil, fmt.Errorf("%w: none of %d generated images could be downloaded", ErrUpstream, len(urls))
	}

	quote, err := s.Quote(ctx, model.Name, req.NumOutputs)
	if err != nil {
		return nil, err
	}

	invoice, err := s.pay.CreateInvoice(ctx, payment.CreateRequest{
		AmountSats:  quote.TotalSats,
		Description: fmt.Sprintf("%d %s image(s)", req.NumOutputs, model.Name),
		Metadata: map[string]string{
			"model":       model.Name,
			"num_outputs": fmt.Sprint(req.NumOutputs),
		},
		Model:      model.Name,
		Prompt:     req.Prompt,
		NumOutputs: req.NumOutputs,
	})
	if err != nil {
		return nil, upstreamErr("create invoice", err)
	}

	result := storage.NewResult(invoice.PaymentHash, images, map[string]string{
		"model":  model.Name,
		"prompt": req.Prompt,
		"names":  strings.Join(urls, "\n"),
	}, s.cfg.ResultTTL)
	if err := s.store.Put(ctx, result); err != nil {
		log.Printf("service: store result for invoice %v: %v", invoice.PaymentHash, err)
		return nil, upstreamErr("store result", err)
	}

	resp.Status = StatusPaymentNeeded
	resp.Invoice = invoice
	resp.Pricing = &quote.Pricing
	resp.RetrieveURL = s.cfg.RetrieveBase + invoice.PaymentHash
	resp.ProcessingTime = time.Since(start).Seconds()

	return resp, nil
}

type RetrieveResponse struct {
	Status      string   `json:"status"`
	PaymentHash string   `json:"payment_hash"`
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	ImageBase64 []string `json:"image_base64"`
}

// Retrieve releases stored images once their invoice is settled. Unpaid
// invoices yield a *PaymentError.
func (s *Service) Retrieve(ctx context.Context, paymentHash string) (*RetrieveResponse, error) {
	invoice, err := s.invoice(ctx, paymentHash)
	if err != nil {
		return nil, err
	}

	switch s.pay.Status(invoice) {
	case payment.StatusSettled:
	case payment.StatusExpired:
		return nil, &PaymentError{Invoice: *invoice, Expired: true}
	default:
		return nil, &PaymentError{Invoice: *invoice}
	}

	result, err := s.store.Get(ctx, paymentHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: no stored result for %v", ErrNotFound, paymentHash)
		}
		return nil, upstreamErr("load result", err)
	}

	names := strings.Split(result.Metadata["names"], "\n")
	resp := &RetrieveResponse{
		Status:      StatusSuccess,
		PaymentHash: paymentHash,
		Model:       result.Metadata["model"],
		Prompt:      result.Metadata["prompt"],
		ImageBase64: imagegen.EncodeBase64(result.Images, names),
	}
	return resp, nil
}

type InvoiceStatus struct {
	PaymentHash string         `json:"payment_hash"`
	AmountSats  int64          `json:"amount_sats"`
	Settled     bool           `json:"settled"`
	Status      payment.Status `json:"status"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

func (s *Service) InvoiceStatus(ctx context.Context, paymentHash string) (*InvoiceStatus, error) {
	invoice, err := s.invoice(ctx, paymentHash)
	if err != nil {
		return nil, err
	}

	return &InvoiceStatus{
		PaymentHash: invoice.PaymentHash,
		AmountSats:  invoice.AmountSats,
		Settled:     invoice.Settled,
		Status:      s.pay.Status(invoice),
		ExpiresAt:   invoice.ExpiresAt,
	}, nil
}

func (s *Service) invoice(ctx context.Context, paymentHash string) (*payment.Invoice, error) {
	if s.pay == nil {
		return nil, fmt.Errorf("%w: payments disabled", ErrNotFound)
	}
	if err := storage.ValidateHash(paymentHash); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	invoice, err := s.pay.GetInvoice(ctx, paymentHash)
	if err != nil {
		if errors.Is(err, payment.ErrInvoiceNotFound) {
			return nil, fmt.Errorf("%w: invoice %v", ErrNotFound, paymentHash)
		}
		return nil, upstreamErr("check invoice", err)
	}
	return invoice, nil
}

func generationErr(err error) error {
	switch {
	case errors.Is(err, imagegen.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, imagegen.ErrNotConfigured):
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return upstreamErr("generate", err)
	}
}

func anyImage(images [][]byte) bool {
	for _, img := range images {
		if img != nil {
			return true
		}
	}
	return false
}

