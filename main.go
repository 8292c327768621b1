package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"github.com/fulmine-labs/sparks/internal/db/sqlite"
	"github.com/fulmine-labs/sparks/internal/imagegen"
	"github.com/fulmine-labs/sparks/internal/imagegen/replicate"
	"github.com/fulmine-labs/sparks/internal/moderation"
	"github.com/fulmine-labs/sparks/internal/notifier"
	"github.com/fulmine-labs/sparks/internal/payment"
	"github.com/fulmine-labs/sparks/internal/payment/ln/alby"
	"github.com/fulmine-labs/sparks/internal/payment/ln/btcpay"
	"github.com/fulmine-labs/sparks/internal/payment/ln/mock"
	"github.com/fulmine-labs/sparks/internal/payment/ln/nodeless"
	"github.com/fulmine-labs/sparks/internal/payment/ln/zbd"
	"github.com/fulmine-labs/sparks/internal/poll"
	"github.com/fulmine-labs/sparks/internal/priceoracle"
	"github.com/fulmine-labs/sparks/internal/service"
	"github.com/fulmine-labs/sparks/internal/storage"
	"github.com/fulmine-labs/sparks/internal/storage/blob"
	"github.com/fulmine-labs/sparks/internal/storage/dynamo"
	"github.com/fulmine-labs/sparks/internal/storage/filesystem"
	"github.com/fulmine-labs/sparks/internal/storage/memory"
	"github.com/fulmine-labs/sparks/internal/storage/pg"
)

const (
	priceStaleTTL    = 10 * time.Minute
	replicateTimeout = 30 * time.Second
	sweepInterval    = time.Hour
	sweepTimeout     = time.Minute
)

var (
	commit    string
	buildDate string
)

func main() {
	ctx := context.Background()

	configPath := flag.String("config", "", "location of config file. If non is specified config will be loaded from the environment")
	flag.Parse()

	log.Printf("build info: commit: %v date: %v\n", commit, buildDate)

	// Costs are served as numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true

	var (
		cfg Config
		err error
	)
	if *configPath != "" {
		log.Printf("loading config from file %q\n", *configPath)
		err = cfg.Load(*configPath)
	} else {
		log.Println("loading config from env")
		err = cfg.LoadFromEnv()
	}
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}
	defer a.Close()

	go a.sweepLoop(ctx)

	h := &handlers{
		config:  cfg,
		svc:     a.svc,
		version: commit,
	}

	r, err := newRouter(h)
	if err != nil {
		log.Printf("router err: %v\n", err)
		os.Exit(1)
	}

	port := fmt.Sprintf(":%d", cfg.Port)

	mode := "free mode"
	if a.svc.PaidMode() {
		mode = "lightning provider " + cfg.LightningProvider
	}
	log.Printf("api listening on %v (%v, storage %v)\n", port, mode, cfg.StorageType)

	if err := http.ListenAndServe(port, r); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func newRouter(h *handlers) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metricsMiddleware)

	routes := h.routes()
	if err := mount(r, routes); err != nil {
		return nil, err
	}
	h.mounted = routes
	return r, nil
}

type sweepFunc func(ctx context.Context) (int64, error)

// app holds the wired components behind the HTTP handlers.
type app struct {
	svc    *service.Service
	ln     payment.Provider
	ledger sqlite.DB
	sweep  sweepFunc
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	catalog, err := cfg.catalog()
	if err != nil {
		return nil, err
	}

	pinned, err := cfg.btcPrice()
	if err != nil {
		return nil, err
	}
	oracle := priceoracle.New(priceoracle.Options{
		Pinned:        pinned,
		TTL:           cfg.PriceCacheTTL,
		StaleTTL:      priceStaleTTL,
		SourceTimeout: cfg.PriceSourceTimeout,
	})

	var backend imagegen.Backend
	if cfg.ReplicateAPIToken != "" {
		backend = replicate.New(cfg.ReplicateBaseURL, cfg.ReplicateAPIToken, replicateTimeout)
	} else {
		log.Println("replicate_api_token not set, generation requests will fail")
	}
	gen := imagegen.New(backend, poll.Policy{
		Interval: cfg.GenerationPollInterval,
		Timeout:  cfg.GenerationTimeout,
	})

	a := &app{}
	var pay service.Payments

	if cfg.LightningProvider != "" {
		a.ln, err = newLNProvider(cfg)
		if err != nil {
			return nil, err
		}

		a.ledger, err = sqlite.New(cfg.LedgerDB)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}

		paySvc, err := payment.New(a.ln, a.ledger, cfg.LightningProvider, cfg.InvoiceExpiry)
		if err != nil {
			a.Close()
			return nil, err
		}

		if cfg.NotifierNsec != "" {
			n, err := notifier.New(cfg.NotifierNsec, cfg.NotifierRelays)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("notifier: %w", err)
			}
			log.Printf("notifier: publishing settlements as %v\n", n.Npub())
			paySvc.OnSettle(n.Settled)
		}
		pay = paySvc
	}

	var store storage.Store
	if pay != nil {
		store, a.sweep, err = newStore(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
	}

	a.svc, err = service.New(service.Config{
		MaxPromptLength:   cfg.MaxPromptLength,
		ModerationEnabled: *cfg.ModerationEnabled,
		ReturnBase64:      *cfg.ReturnBase64,
		ResultTTL:         cfg.ResultTTL,
		RetrieveBase:      path.Join("/", cfg.APIPath, "/services/image/retrieve") + "/",
		StorageName:       cfg.StorageType,
	},
		catalog,
		moderation.New(cfg.ModerationThreshold),
		gen,
		imagegen.NewDownloader(cfg.DownloadTimeout),
		oracle,
		pay,
		store,
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) Close() error {
	if a.ledger != nil {
		return a.ledger.Close()
	}
	return nil
}

// sweepLoop removes expired results from stores that do not expire them
// natively.
func (a *app) sweepLoop(ctx context.Context) {
	if a.sweep == nil {
		return
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, sweepTimeout)
			n, err := a.sweep(sctx)
			cancel()
			if err != nil {
				log.Printf("sweep: %v\n", err)
				continue
			}
			if n > 0 {
				log.Printf("sweep: removed %d expired results\n", n)
			}
		}
	}
}

func newLNProvider(cfg Config) (payment.Provider, error) {
	switch cfg.LightningProvider {
	case "alby":
		client, err := alby.New(cfg.AlbyHubURL, cfg.AlbyAPIToken)
		if err != nil {
			return nil, fmt.Errorf("alby err: %w", err)
		}
		return client, nil
	case "btcpay":
		client, err := btcpay.New(cfg.BTCPayServerURL, cfg.BTCPayAPIKey, cfg.BTCPayStoreID)
		if err != nil {
			return nil, fmt.Errorf("btcpay err: %w", err)
		}
		return client, nil
	case "nodeless":
		client, err := nodeless.New(cfg.NodelessAPIKey, cfg.NodelessStoreID, cfg.NodelessTestnet)
		if err != nil {
			return nil, fmt.Errorf("nodeless err: %w", err)
		}
		return client, nil
	case "zbd":
		client, err := zbd.New(cfg.ZBDAPIKey)
		if err != nil {
			return nil, fmt.Errorf("zbd err: %w", err)
		}
		return client, nil
	case "mock":
		log.Println("lightning_provider mock: invoices are not real")
		return mock.New(cfg.MockAutoSettle), nil
	default:
		return nil, fmt.Errorf("unknown lightning_provider %q. must be one of alby, btcpay, nodeless, zbd, mock or empty for free mode", cfg.LightningProvider)
	}
}

func newStore(ctx context.Context, cfg Config) (storage.Store, sweepFunc, error) {
	switch cfg.StorageType {
	case "memory":
		s := memory.New()
		return s, func(context.Context) (int64, error) {
			return int64(s.Sweep()), nil
		}, nil
	case "filesystem":
		s, err := filesystem.New(cfg.StorageDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func(ctx context.Context) (int64, error) {
			n, err := s.Sweep(ctx)
			return int64(n), err
		}, nil
	case "dynamodb":
		if cfg.DynamoDBTable == "" {
			return nil, nil, fmt.Errorf("dynamodb_table required")
		}
		// Expiry is enforced by the table's TTL attribute.
		s, err := dynamo.New(ctx, cfg.DynamoDBTable, cfg.AWSRegion)
		return s, nil, err
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, nil, fmt.Errorf("s3_bucket required")
		}
		// Expiry is left to a bucket lifecycle rule.
		s, err := blob.New(ctx, cfg.S3Bucket, cfg.AWSRegion)
		return s, nil, err
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, nil, fmt.Errorf("postgres_url required")
		}
		s, err := pg.New(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Sweep, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage_type %q", cfg.StorageType)
	}
}
