// Package runtime assembles an orchestrator process from its
// configuration: the key-value store, session store, prompt cache,
// routing model, agent registry, workflow driver, and the HTTP
// transport, under one lifecycle. New wires everything together and
// Close releases it in reverse dependency order.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/majordomohq/majordomo/pkg/agent"
	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/embedder"
	"github.com/majordomohq/majordomo/pkg/events"
	"github.com/majordomohq/majordomo/pkg/httpclient"
	"github.com/majordomohq/majordomo/pkg/kv"
	"github.com/majordomohq/majordomo/pkg/llm"
	"github.com/majordomohq/majordomo/pkg/observability"
	"github.com/majordomohq/majordomo/pkg/promptcache"
	"github.com/majordomohq/majordomo/pkg/router"
	"github.com/majordomohq/majordomo/pkg/session"
	"github.com/majordomohq/majordomo/pkg/transport"
	"github.com/majordomohq/majordomo/pkg/vector"
	"github.com/majordomohq/majordomo/pkg/workflow"
)

// closeTimeout bounds the graceful drain of the HTTP server and the
// exporter flushes during Close.
const closeTimeout = 10 * time.Second

// Runtime owns the long-lived components of one orchestrator process.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	obs      *observability.Manager
	store    kv.Store
	sessions *session.Store
	cache    *promptcache.Cache
	provider llm.Provider
	bus      *events.Bus
	mirror   *events.Mirror
	outbound *httpclient.Client
	registry *agent.Registry
	locator  *agent.HandlerMap
	invoker  *agent.Invoker
	router   *router.Router
	driver   *workflow.Driver
	server   *transport.Server

	mu sync.Mutex // serializes Apply
}

// New builds a runtime from cfg. The configuration is defaulted and
// validated first; a failure of any component tears down the ones
// already built.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{cfg: cfg, logger: logger.With("component", "runtime")}
	if err := r.init(ctx, logger); err != nil {
		if cerr := r.Close(); cerr != nil {
			r.logger.Warn("Partial teardown failed", "error", cerr)
		}
		return nil, err
	}
	return r, nil
}

func (r *Runtime) init(ctx context.Context, base *slog.Logger) error {
	cfg := r.cfg

	r.obs = observability.NewManager(cfg.Observability, base)
	if err := r.obs.Initialize(ctx); err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	store, err := kv.New(storeConfig(cfg.Store))
	if err != nil {
		return fmt.Errorf("key-value store: %w", err)
	}
	r.store = store
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("key-value store: %w", err)
	}
	r.sessions = session.NewStore(store)

	cache, err := r.buildCache()
	if err != nil {
		return err
	}
	r.cache = cache

	provider, err := llm.New(cfg.LLM, clientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("routing model: %w", err)
	}
	r.provider = provider

	r.bus = events.NewBus(cfg.Events.BufferSize, base)
	if cfg.Events.NATS.IsEnabled() {
		mirror, err := events.NewMirror(cfg.Events.NATS, base)
		if err != nil {
			return fmt.Errorf("nats mirror: %w", err)
		}
		r.mirror = mirror
		r.bus.Mirror(mirror)
	}

	if err := r.buildAgents(ctx); err != nil {
		return err
	}

	rt, err := router.New(&cfg.Router, provider, cache, r.registry, cfg.Fallback.AgentID, base)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	r.router = rt

	wrapper := workflow.NewWrapper(r.invoker, r.registry, r.bus, base)
	r.driver = workflow.NewDriver(cfg, rt, wrapper, r.registry, r.sessions, r.bus, base)
	r.server = transport.NewServer(cfg, r.driver, r.registry, cache, store, r.obs.MetricsHandler(), base)

	// A cold cache only costs hits, so a failed warm-up is not fatal.
	if err := cache.Warm(ctx); err != nil {
		r.logger.Warn("Prompt cache warm-up failed, starting cold", "error", err)
	}

	r.logger.Info("Runtime ready",
		"agents", r.registry.Count(),
		"store", cfg.Store.Backend,
		"cache", cfg.Cache.IsEnabled())
	return nil
}

// buildCache assembles the prompt cache with its embedder and vector
// index. With the cache disabled neither is needed and the cache
// answers every lookup with a miss.
func (r *Runtime) buildCache() (*promptcache.Cache, error) {
	if !r.cfg.Cache.IsEnabled() {
		return promptcache.New(r.cfg.Cache, nil, nil, nil)
	}

	embed, err := embedder.New(r.cfg.Embedder, clientOptions(r.cfg)...)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	index, err := vector.New(r.cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}
	cache, err := promptcache.New(r.cfg.Cache, r.store, embed, index)
	if err != nil {
		return nil, fmt.Errorf("prompt cache: %w", err)
	}
	return cache, nil
}

// Start serves the HTTP surface and blocks until Close or a listener
// error.
func (r *Runtime) Start() error {
	return r.server.Start()
}

// Close drains the HTTP server and releases every component in
// reverse dependency order, collecting errors rather than stopping at
// the first one.
func (r *Runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if r.server != nil {
		if err := r.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("prompt cache: %w", err))
		}
	}
	if r.mirror != nil {
		r.mirror.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.obs != nil {
		if err := r.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("key-value store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Config returns the live configuration tree.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Registry returns the agent registry.
func (r *Runtime) Registry() *agent.Registry { return r.registry }

// Driver returns the workflow driver, for embedding hosts that call
// the orchestrator in process instead of over HTTP.
func (r *Runtime) Driver() *workflow.Driver { return r.driver }

// Bus returns the lifecycle event bus.
func (r *Runtime) Bus() *events.Bus { return r.bus }

// Cache returns the prompt cache.
func (r *Runtime) Cache() *promptcache.Cache { return r.cache }

// storeConfig maps the configuration section onto the kv factory.
func storeConfig(cfg config.StoreConfig) kv.Config {
	return kv.Config{
		Backend: string(cfg.Backend),
		DSN:     cfg.DSN,
		Redis: kv.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
	}
}

// clientOptions translates the outbound TLS section into http client
// options shared by the model, embedder, and agent clients.
func clientOptions(cfg *config.Config) []httpclient.Option {
	if !cfg.TLS.InsecureSkipVerify && cfg.TLS.CACertificate == "" {
		return nil
	}
	return []httpclient.Option{httpclient.WithTLSConfig(&httpclient.TLSConfig{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		CACertificate:      cfg.TLS.CACertificate,
	})}
}
