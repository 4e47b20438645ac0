package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ogozo/service-ticketing/internal/broker"
	"github.com/ogozo/service-ticketing/internal/config"
	"github.com/ogozo/service-ticketing/internal/database"
	"github.com/ogozo/service-ticketing/internal/logging"
	"github.com/ogozo/service-ticketing/internal/observability"
	"github.com/ogozo/service-ticketing/internal/order"
	"github.com/ogozo/service-ticketing/internal/reservation"
	"github.com/ogozo/service-ticketing/internal/stream"
	"github.com/ogozo/service-ticketing/internal/ticket"
	"github.com/ogozo/service-ticketing/internal/worker"
)

func main() {
	var cfg config.WorkerConfig
	config.LoadConfig(&cfg)

	flushLogs := logging.Init(cfg.OtelServiceName)
	defer flushLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracerProvider(ctx, cfg.OtelServiceName, cfg.OtelExporterEndpoint)
	if err != nil {
		logging.Fatal(ctx, "failed to init tracing", err)
	}
	defer shutdownTracing(context.Background())

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal(ctx, "failed to connect to database", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logging.Fatal(ctx, "failed to migrate schema", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logging.Fatal(ctx, "failed to parse redis url", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logging.Fatal(ctx, "failed to instrument redis client", err)
	}

	resultBroker, err := broker.NewBroker(cfg.RabbitMQURL)
	if err != nil {
		logging.Fatal(ctx, "failed to connect to RabbitMQ", err)
	}
	defer resultBroker.Close()
	if err := resultBroker.DeclareOrderResultExchange(); err != nil {
		logging.Fatal(ctx, "failed to declare result exchange", err)
	}

	ticketRepo := ticket.NewRepository(pool)
	orderRepo := order.NewRepository(pool)
	finalizer := reservation.NewService(pool, ticketRepo, orderRepo)
	orderLog := stream.NewLog(redisClient, cfg.OrderStreamKey, cfg.RedeliverIdle)

	logging.Info(ctx, "starting reservation workers",
		zap.Int("count", cfg.WorkerCount),
		zap.String("stream", cfg.OrderStreamKey),
		zap.String("group", cfg.ConsumerGroup))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerCount; i++ {
		w := worker.New(orderLog, orderRepo, finalizer, resultBroker, worker.Config{
			Group:      cfg.ConsumerGroup,
			GroupStart: cfg.ConsumerGroupStart,
			Consumer:   fmt.Sprintf("%s-%d", cfg.ConsumerName, i),
			BatchSize:  int64(cfg.ReadBatchSize),
			Block:      cfg.ReadBlockTimeout,
		})
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logging.Fatal(ctx, "worker exited with error", err)
	}
	logging.Info(ctx, "all workers stopped")
}
