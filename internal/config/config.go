package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// WorkerConfig holds every knob the order pipeline reads from the
// environment. All fields are bound by their mapstructure tag.
type WorkerConfig struct {
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	OtelExporterEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelServiceName      string `mapstructure:"OTEL_SERVICE_NAME"`

	OrderStreamKey string `mapstructure:"ORDER_STREAM_KEY"`
	ConsumerGroup  string `mapstructure:"CONSUMER_GROUP"`
	ConsumerName   string `mapstructure:"CONSUMER_NAME"`

	// ConsumerGroupStart is the stream id a freshly created group starts
	// from: "$" delivers new entries only, "0" replays the whole stream.
	// Entries appended before the group exists are invisible with "$".
	ConsumerGroupStart string `mapstructure:"CONSUMER_GROUP_START"`

	WorkerCount      int           `mapstructure:"WORKER_COUNT"`
	ReadBatchSize    int           `mapstructure:"READ_BATCH_SIZE"`
	ReadBlockTimeout time.Duration `mapstructure:"READ_BLOCK_TIMEOUT"`

	// RedeliverIdle is the visibility window: entries pending longer than
	// this on a dead consumer become eligible for reclaim by another one.
	RedeliverIdle time.Duration `mapstructure:"REDELIVER_IDLE"`
}

func LoadConfig(cfg any) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		envKey := field.Tag.Get("mapstructure")
		if envKey == "" {
			continue
		}

		err := viper.BindEnv(envKey)
		if err != nil {
			tempLogger, _ := zap.NewProduction()
			defer tempLogger.Sync()
			tempLogger.Fatal("Failed to bind env var", zap.String("key", envKey), zap.Error(err))
		}
	}

	err := viper.Unmarshal(cfg)
	if err != nil {
		tempLogger, _ := zap.NewProduction()
		defer tempLogger.Sync()
		tempLogger.Fatal("Unable to decode config into struct", zap.Error(err))
	}

	if wc, ok := cfg.(*WorkerConfig); ok {
		wc.applyDefaults()
	}
}

func (c *WorkerConfig) applyDefaults() {
	if c.OtelServiceName == "" {
		c.OtelServiceName = "service-ticketing"
	}
	if c.OrderStreamKey == "" {
		c.OrderStreamKey = "orders-stream"
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "order-workers"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "worker"
	}
	if c.ConsumerGroupStart == "" {
		c.ConsumerGroupStart = "$"
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}
	if c.ReadBatchSize <= 0 {
		c.ReadBatchSize = 10
	}
	if c.ReadBlockTimeout <= 0 {
		c.ReadBlockTimeout = 5 * time.Second
	}
	if c.RedeliverIdle <= 0 {
		c.RedeliverIdle = time.Minute
	}
}
