package feed

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"

	"github.com/cr0ssing/iota-local-gtta/logger"
)

const maxPollRecords = 1000

// KafkaConfig locates the relay topic.
type KafkaConfig struct {
	Brokers          []string
	Topic            string
	MetricsNamespace string
}

// Kafka reads feed messages relayed into a topic. Message order is only kept within a
// partition, so the topic must have a single partition.
type Kafka struct {
	kcl *kgo.Client
}

// NewKafka starts consuming at the end of the topic, like a fresh feed subscription.
func NewKafka(cfg KafkaConfig, registerer prometheus.Registerer) (*Kafka, error) {
	m := kprom.NewMetrics(cfg.MetricsNamespace, kprom.Registerer(registerer))
	kcl, err := kgo.NewClient(
		kgo.WithHooks(m),
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.WithLogger(kzap{}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating kafka client")
	}
	logger.Logger.Info("Consuming feed topic", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return NewKafkaWithClient(kcl), nil
}

// NewKafkaWithClient wraps an already configured client.
func NewKafkaWithClient(kcl *kgo.Client) *Kafka {
	return &Kafka{kcl: kcl}
}

// Poll returns the next batch of records, at most maxPollRecords of them.
func (k *Kafka) Poll(ctx context.Context) ([][]byte, error) {
	fetches := k.kcl.PollRecords(ctx, maxPollRecords)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		// only non-retryable errors are returned.
		for _, err := range errs {
			logger.Logger.Error("Fetch error", zap.String("topic", err.Topic), zap.Int32("partition", err.Partition), zap.Error(err.Err))
		}
		return nil, errors.Wrap(errs[0].Err, "fetching records")
	}

	var frames [][]byte
	iter := fetches.RecordIter()
	for !iter.Done() {
		frames = append(frames, iter.Next().Value)
	}
	return frames, nil
}

// Close leaves the topic and closes the client.
func (k *Kafka) Close() error {
	k.kcl.Close()
	return nil
}

// kzap routes client logs into the zap logger.
type kzap struct{}

func (kzap) Level() kgo.LogLevel {
	return kgo.LogLevelInfo
}

func (kzap) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	switch level {
	case kgo.LogLevelError:
		logger.Logger.Error(msg, fields...)
	case kgo.LogLevelWarn:
		logger.Logger.Warn(msg, fields...)
	case kgo.LogLevelInfo:
		logger.Logger.Info(msg, fields...)
	default:
		logger.Logger.Debug(msg, fields...)
	}
}
