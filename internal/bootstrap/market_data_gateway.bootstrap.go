package bootstrap

import (
	"context"
	"errors"
	"strings"

	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/entity"
	gatewayhttp "github.com/krobus00/market-gateway/internal/handler/gateway/http"
	"github.com/krobus00/market-gateway/internal/infrastructure"
	"github.com/krobus00/market-gateway/internal/repository"
	"github.com/krobus00/market-gateway/internal/service/distribution"
	"github.com/krobus00/market-gateway/internal/service/feed"
	"github.com/krobus00/market-gateway/internal/service/gateway"
	"github.com/krobus00/market-gateway/internal/service/pipeline"
	"github.com/krobus00/market-gateway/internal/service/republish"
	"github.com/krobus00/market-gateway/internal/util"
	"github.com/krobus00/market-gateway/migration"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var errFeedNotReady = errors.New("feed session not ready")

type cacheStore interface {
	pipeline.Cache
	Ping(ctx context.Context) error
	Close() error
}

func StartMarketDataGateway(cmd *cobra.Command, args []string) {
	decimal.MarshalJSONWithoutQuotes = true

	fatal := newFatalContext(context.Background())
	defer fatal.cancel()
	ctx := fatal.Context

	dbConfig := config.Env.Database[constant.MarketDataDatabase]
	db, err := infrastructure.NewDatabaseConnection(ctx, dbConfig)
	util.ContinueOrFatal(err)
	util.ContinueOrFatal(migration.Up(db.DB, db.DriverName(), constant.MarketDataDatabase))
	infrastructure.StartDatabaseHealthCheck(ctx, db, dbConfig.PingInterval)

	cache := newCacheStore(ctx)

	tickRepo := repository.NewTickRepository(db)
	quoteRepo := repository.NewQuoteRepository(db)

	dataPipeline := pipeline.NewPipeline(config.Env.Pipeline, cache, tickRepo, quoteRepo)
	pipeline.StartRetention(ctx, tickRepo, config.Env.Pipeline.RetentionDays, config.Env.Pipeline.RetentionInterval)

	authenticator := distribution.NewAuthenticator(config.Env.Distribution.JWTSecret, config.Env.DevMode)
	wsServer := distribution.NewServer(config.Env.Distribution, authenticator, dataPipeline)
	broadcaster := distribution.NewBroadcaster(config.Env.Distribution, wsServer)
	dataPipeline.AddSink(broadcaster)

	sinks := startRepublishers(ctx, dataPipeline)

	session := feed.NewSession(config.Env.Feed)
	registry := feed.NewSubscriptionRegistry(session)
	marketGateway := gateway.NewGateway(session, registry, dataPipeline, broadcaster, config.Env.Feed.BootstrapSymbols, fatal.Fatal)
	session.OnEvent(marketGateway.HandleEvent)

	mux := infrastructure.NewHealthMux(map[string]infrastructure.ReadinessCheck{
		"feed": func(context.Context) error {
			if !session.IsReady() {
				return errFeedNotReady
			}
			return nil
		},
		"database": db.PingContext,
		"cache":    cache.Ping,
	})
	mux.Handle(config.Env.Distribution.Path, wsServer)
	gatewayhttp.NewMarketGatewayHTTPHandler(gatewayhttp.Dependencies{
		APIKeys:       config.Env.APIKeys,
		Pipeline:      dataPipeline,
		Subscriptions: registry,
		Broadcaster:   broadcaster,
		Clients:       wsServer,
		Feed:          session,
	}).Register(mux)

	httpServer := infrastructure.NewHTTPServer(mux)

	go dataPipeline.Run(ctx)
	wsServer.Start()

	go func() {
		if err := httpServer.Start(); err != nil {
			fatal.Fatal(err)
		}
	}()

	go func() {
		if err := session.Connect(ctx); err != nil {
			fatal.Fatal(err)
		}
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, []cleanup{
		{name: "feed subscriptions", op: func(context.Context) error {
			if !session.IsAuthenticated() {
				return nil
			}
			return registry.UnsubscribeAll()
		}},
		{name: "websocket server", op: wsServer.Stop},
		{name: "broadcaster", op: func(context.Context) error {
			broadcaster.Stop()
			return nil
		}},
		{name: "pipeline", op: dataPipeline.Close},
		{name: "feed session", op: func(context.Context) error {
			session.Disconnect()
			return nil
		}},
		{name: "http server", op: httpServer.Shutdown},
		{name: "republishers", op: sinks.Close},
		{name: "cache", op: func(context.Context) error {
			return cache.Close()
		}},
		{name: "database", op: func(context.Context) error {
			fatal.cancel()
			return db.Close()
		}},
	})

	<-wait

	if err := fatal.Cause(); err != nil {
		logrus.WithError(err).Fatal("market data gateway stopped")
	}
}

// newCacheStore uses redis when a cache DSN is configured and an in-process
// TTL cache otherwise.
func newCacheStore(ctx context.Context) cacheStore {
	redisConfig := config.Env.Redis[constant.CacheRedis]
	if strings.TrimSpace(redisConfig.CacheDSN) == "" {
		logrus.Warn("redis cache_dsn not set, using in-memory cache")
		return repository.NewMemoryCache()
	}

	client, err := infrastructure.NewRedisClient(ctx, redisConfig)
	util.ContinueOrFatal(err)

	return repository.NewRedisCache(client)
}

type republishers struct {
	nc        *nats.Conn
	jetstream *republish.JetstreamPublisher
	kafka     *republish.KafkaPublisher
}

// Close waits for outstanding jetstream acks, then closes both transports.
func (r *republishers) Close(ctx context.Context) error {
	var errs []error
	if r.jetstream != nil {
		errs = append(errs, r.jetstream.WaitPending(ctx))
	}
	errs = append(errs, infrastructure.CloseJetstream(r.nc))
	if r.kafka != nil {
		errs = append(errs, r.kafka.Close())
	}
	return errors.Join(errs...)
}

// startRepublishers registers the optional nats and kafka sinks on the pipeline.
func startRepublishers(ctx context.Context, dataPipeline *pipeline.Pipeline) *republishers {
	sinks := &republishers{}

	if config.Env.NatsJetstream.Enabled {
		retry := republish.AsyncRetryHandler(config.Env.NatsJetstream.MaxRetries)
		conn, js, err := infrastructure.NewJetstream(config.Env.NatsJetstream, nats.PublishAsyncErrHandler(retry))
		util.ContinueOrFatal(err)

		publisher := republish.NewJetstreamPublisher(js)
		util.ContinueOrFatal(publisher.JetstreamEventInit(ctx))
		registerSink(dataPipeline, "nats jetstream", publisher)
		sinks.nc = conn
		sinks.jetstream = publisher
	}

	if config.Env.Kafka.Enabled {
		writer, err := infrastructure.NewKafkaWriter(config.Env.Kafka)
		util.ContinueOrFatal(err)

		sinks.kafka = republish.NewKafkaPublisher(writer)
		registerSink(dataPipeline, "kafka", sinks.kafka)
	}

	return sinks
}

func registerSink(dataPipeline *pipeline.Pipeline, name string, sink entity.MarketEventSink) {
	dataPipeline.AddSink(sink)
	logrus.WithField("sink", name).Info("market event republisher enabled")
}
