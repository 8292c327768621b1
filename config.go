package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/fulmine-labs/sparks/internal/imagegen"
)

const (
	defaultPort                   = 8000
	defaultAPIPath                = "/api/v1"
	defaultServiceName            = "sparks"
	defaultGenerationPollInterval = 2 * time.Second
	defaultGenerationTimeout      = 10 * time.Minute
	defaultDownloadTimeout        = 30 * time.Second
	defaultModerationThreshold    = 0.15
	defaultMaxPromptLength        = 1000
	defaultPriceCacheTTL          = 60 * time.Second
	defaultPriceSourceTimeout     = 5 * time.Second
	defaultInvoiceExpiry          = time.Hour
	defaultStorageType            = "memory"
	defaultStorageDir             = "./results"
	defaultResultTTL              = 7 * 24 * time.Hour
	defaultLedgerDB               = "./sparks.db"
)

type ModelConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	PriceUSD    string `yaml:"price_usd"`
}

type Config struct {
	// API settings
	Port        int    `yaml:"port" envconfig:"PORT"`
	APIPath     string `yaml:"api_path" envconfig:"API_PATH"`
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`

	// Image generation
	ReplicateAPIToken      string            `yaml:"replicate_api_token" envconfig:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL       string            `yaml:"replicate_base_url" envconfig:"REPLICATE_BASE_URL"`
	GenerationPollInterval time.Duration     `yaml:"generation_poll_interval" envconfig:"GENERATION_POLL_INTERVAL"`
	GenerationTimeout      time.Duration     `yaml:"generation_timeout" envconfig:"GENERATION_TIMEOUT"`
	DownloadTimeout        time.Duration     `yaml:"download_timeout" envconfig:"DOWNLOAD_TIMEOUT"`
	ReturnBase64           *bool             `yaml:"return_base64" envconfig:"RETURN_BASE64"`
	Models                 []ModelConfig     `yaml:"models" ignored:"true"`
	ModelPrices            map[string]string `yaml:"model_prices" envconfig:"MODEL_PRICES"`

	// Moderation
	ModerationEnabled   *bool   `yaml:"moderation_enabled" envconfig:"MODERATION_ENABLED"`
	ModerationThreshold float64 `yaml:"moderation_threshold" envconfig:"MODERATION_THRESHOLD"`
	MaxPromptLength     int     `yaml:"max_prompt_length" envconfig:"MAX_PROMPT_LENGTH"`

	// Pricing
	BTCPriceUSD        string        `yaml:"btc_price_usd" envconfig:"BTC_PRICE_USD"`
	PriceCacheTTL      time.Duration `yaml:"price_cache_ttl" envconfig:"PRICE_CACHE_TTL"`
	PriceSourceTimeout time.Duration `yaml:"price_source_timeout" envconfig:"PRICE_SOURCE_TIMEOUT"`

	// Lightning
	LightningProvider string        `yaml:"lightning_provider" envconfig:"LIGHTNING_PROVIDER"`
	InvoiceExpiry     time.Duration `yaml:"invoice_expiry" envconfig:"INVOICE_EXPIRY"`
	AlbyAPIToken      string        `yaml:"alby_api_token" envconfig:"ALBY_API_TOKEN"`
	AlbyHubURL        string        `yaml:"alby_hub_url" envconfig:"ALBY_HUB_URL"`
	BTCPayServerURL   string        `yaml:"btcpay_server_url" envconfig:"BTCPAY_SERVER_URL"`
	BTCPayAPIKey      string        `yaml:"btcpay_api_key" envconfig:"BTCPAY_API_KEY"`
	BTCPayStoreID     string        `yaml:"btcpay_store_id" envconfig:"BTCPAY_STORE_ID"`
	NodelessAPIKey    string        `yaml:"nodeless_apikey" envconfig:"NODELESS_APIKEY"`
	NodelessStoreID   string        `yaml:"nodeless_storeid" envconfig:"NODELESS_STOREID"`
	NodelessTestnet   bool          `yaml:"nodeless_testnet" envconfig:"NODELESS_TESTNET"`
	ZBDAPIKey         string        `yaml:"zbd_apikey" envconfig:"ZBD_APIKEY"`
	MockAutoSettle    bool          `yaml:"mock_auto_settle" envconfig:"MOCK_AUTO_SETTLE"`

	// Result storage
	StorageType   string        `yaml:"storage_type" envconfig:"STORAGE_TYPE"`
	StorageDir    string        `yaml:"storage_dir" envconfig:"STORAGE_DIR"`
	DynamoDBTable string        `yaml:"dynamodb_table" envconfig:"DYNAMODB_TABLE"`
	AWSRegion     string        `yaml:"aws_region" envconfig:"AWS_REGION"`
	S3Bucket      string        `yaml:"s3_bucket" envconfig:"S3_BUCKET"`
	PostgresURL   string        `yaml:"postgres_url" envconfig:"POSTGRES_URL"`
	ResultTTL     time.Duration `yaml:"result_ttl" envconfig:"RESULT_TTL"`

	LedgerDB       string   `yaml:"ledger_db" envconfig:"LEDGER_DB"`
	NotifierNsec   string   `yaml:"notifier_nsec" envconfig:"NOTIFIER_NSEC"`
	NotifierRelays []string `yaml:"notifier_relays" envconfig:"NOTIFIER_RELAYS"`
}

// Load Config from a yaml file at path.
func (c *Config) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return err
	}

	c.applyDefaults()
	return nil
}

// Load Config from the environment.
func (c *Config) LoadFromEnv() error {
	if err := envconfig.Process("", c); err != nil {
		return err
	}

	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.APIPath == "" {
		c.APIPath = defaultAPIPath
	}
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.GenerationPollInterval == 0 {
		c.GenerationPollInterval = defaultGenerationPollInterval
	}
	if c.GenerationTimeout == 0 {
		c.GenerationTimeout = defaultGenerationTimeout
	}
	if c.DownloadTimeout == 0 {
		c.DownloadTimeout = defaultDownloadTimeout
	}
	if c.ReturnBase64 == nil {
		c.ReturnBase64 = boolPtr(true)
	}
	if c.ModerationEnabled == nil {
		c.ModerationEnabled = boolPtr(true)
	}
	if c.ModerationThreshold == 0 {
		c.ModerationThreshold = defaultModerationThreshold
	}
	if c.MaxPromptLength == 0 {
		c.MaxPromptLength = defaultMaxPromptLength
	}
	if c.PriceCacheTTL == 0 {
		c.PriceCacheTTL = defaultPriceCacheTTL
	}
	if c.PriceSourceTimeout == 0 {
		c.PriceSourceTimeout = defaultPriceSourceTimeout
	}
	if c.InvoiceExpiry == 0 {
		c.InvoiceExpiry = defaultInvoiceExpiry
	}
	if c.StorageType == "" {
		c.StorageType = defaultStorageType
	}
	if c.StorageDir == "" {
		c.StorageDir = defaultStorageDir
	}
	if c.ResultTTL == 0 {
		c.ResultTTL = defaultResultTTL
	}
	if c.LedgerDB == "" {
		c.LedgerDB = defaultLedgerDB
	}
}

// catalog builds the model catalog from the configured models, or the
// defaults, then applies any model_prices overrides.
func (c *Config) catalog() (*imagegen.Catalog, error) {
	models := imagegen.DefaultModels()
	if len(c.Models) > 0 {
		models = make([]imagegen.Model, 0, len(c.Models))
		for _, m := range c.Models {
			price, err := parsePrice(m.Name, m.PriceUSD)
			if err != nil {
				return nil, err
			}
			models = append(models, imagegen.Model{
				Name:        m.Name,
				Version:     m.Version,
				Description: m.Description,
				PriceUSD:    price,
			})
		}
	}

	catalog, err := imagegen.NewCatalog(models)
	if err != nil {
		return nil, err
	}
	if len(c.ModelPrices) == 0 {
		return catalog, nil
	}

	prices := make(map[string]decimal.Decimal, len(c.ModelPrices))
	for name, s := range c.ModelPrices {
		price, err := parsePrice(name, s)
		if err != nil {
			return nil, err
		}
		prices[name] = price
	}
	return catalog.WithPrices(prices)
}

// btcPrice is the pinned oracle price, zero when unset.
func (c *Config) btcPrice() (decimal.Decimal, error) {
	if c.BTCPriceUSD == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(c.BTCPriceUSD)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("btc_price_usd: invalid price %q", c.BTCPriceUSD)
	}
	return d, nil
}

func parsePrice(model, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("model %q: price_usd required", model)
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("model %q: invalid price %q", model, s)
	}
	return d, nil
}

func boolPtr(b bool) *bool {
	return &b
}
