// cmd/api/main.go
package main

import (
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/docufort/ragproxy/cache"
	"github.com/docufort/ragproxy/internal/breaker"
	"github.com/docufort/ragproxy/internal/config"
	"github.com/docufort/ragproxy/internal/http/routes"
	"github.com/docufort/ragproxy/internal/proxy"
	"github.com/docufort/ragproxy/internal/recon"
	"github.com/docufort/ragproxy/internal/token"
	"github.com/docufort/ragproxy/internal/upstream"
	"github.com/docufort/ragproxy/internal/vector"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	logger.Info().Str("port", cfg.Port).Msg("starting ragproxy api")

	// Cache tiers
	local := cache.NewLocal(cfg.Cache.LocalCapacity, cfg.Cache.LocalTTL)
	var redisTier *cache.RedisTier
	var queue *asynq.Client
	if cfg.HasRedis() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		redisTier = cache.NewRedisTier(rdb, cfg.Cache.RedisTTL, logger)
		queue = asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn().Err(err).Msg("close asynq client")
			}
		}()
	} else {
		logger.Warn().Msg("REDIS_ADDR not set: local-only cache, synchronous ingestion")
	}
	responseCache := cache.New(local, redisTier, logger)

	// Service credentials shared by all outbound calls
	tokens := token.NewCachedIssuer(cfg.ServiceName, []byte(cfg.ServiceSecret), cfg.TokenTTL)

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}

	queryClient, err := upstream.New(proxy.UpstreamQuery, cfg.QueryEngineURL, cfg.ServiceName,
		upstream.WithHTTPClient(httpClient), upstream.WithTokenSource(tokens))
	if err != nil {
		logger.Fatal().Err(err).Msg("query engine client")
	}
	collectionsClient, err := upstream.New(proxy.UpstreamCollections, cfg.CollectionsEngineURL, cfg.ServiceName,
		upstream.WithHTTPClient(httpClient), upstream.WithTokenSource(tokens))
	if err != nil {
		logger.Fatal().Err(err).Msg("collections engine client")
	}
	ingestionClient, err := upstream.New(proxy.UpstreamIngestion, cfg.IngestionEngineURL, cfg.ServiceName,
		upstream.WithHTTPClient(httpClient), upstream.WithTokenSource(tokens))
	if err != nil {
		logger.Fatal().Err(err).Msg("ingestion engine client")
	}

	brkCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MinVolume:        cfg.Breaker.MinVolume,
		Window:           cfg.Breaker.Window,
		Buckets:          cfg.Breaker.Buckets,
		ResetInterval:    cfg.Breaker.ResetInterval,
		CallTimeout:      cfg.Breaker.CallTimeout,
	}

	registry := proxy.NewRegistry()
	registry.Register(&proxy.Upstream{
		Name:    proxy.UpstreamQuery,
		Client:  queryClient,
		Breaker: breaker.New(proxy.UpstreamQuery, brkCfg, logger),
	})
	registry.Register(&proxy.Upstream{
		Name:    proxy.UpstreamCollections,
		Client:  collectionsClient,
		Breaker: breaker.New(proxy.UpstreamCollections, brkCfg, logger),
	})
	registry.Register(&proxy.Upstream{
		Name:    proxy.UpstreamIngestion,
		Client:  ingestionClient,
		Breaker: breaker.New(proxy.UpstreamIngestion, brkCfg, logger),
	})

	orchestrator := proxy.New(responseCache, registry, logger)

	vectorClient, err := vector.New(cfg.VectorStoreURL, vector.WithHTTPClient(httpClient))
	if err != nil {
		logger.Fatal().Err(err).Msg("vector store client")
	}

	engine := recon.NewEngine(recon.Options{
		Vector:        vectorClient,
		VectorBreaker: breaker.New("vector-store", brkCfg, logger),
		Query:         queryClient,
		Ingestion:     ingestionClient,
		Registry:      recon.NewCollectionRegistry(cfg.DocsRoot),
		Queue:         queue,
		SnapshotTTL:   cfg.StatusTTL,
		Log:           logger,
	})

	s := routes.New(routes.ServerOptions{
		Proxy:     orchestrator,
		Recon:     engine,
		Log:       logger,
		StatusTTL: cfg.StatusTTL,
	})
	h := hlog.NewHandler(logger)(s.Router)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: h}
	logger.Fatal().Err(srv.ListenAndServe()).Msg("server exited")
}
