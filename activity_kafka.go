package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	goerrors "github.com/goliatone/go-errors"
)

const DefaultActivityTopic = "tenant-auth.activity"

// KafkaActivitySink publishes activity events, keyed by user id so events
// of one user land on the same partition
type KafkaActivitySink struct {
	producer sarama.SyncProducer
	topic    string
	encode   ActivityEncoder
}

// ActivityEncoder turns an event into a message value
type ActivityEncoder func(ActivityEvent) ([]byte, error)

type KafkaSinkOption func(*KafkaActivitySink)

// WithKafkaEncoder replaces the default JSON encoding of ActivityEvent
func WithKafkaEncoder(encode ActivityEncoder) KafkaSinkOption {
	return func(k *KafkaActivitySink) {
		if encode != nil {
			k.encode = encode
		}
	}
}

// NewKafkaProducer builds a sync producer for the activity sink
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, goerrors.New("kafka brokers required", goerrors.CategoryBadInput)
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "create kafka producer")
	}
	return producer, nil
}

func NewKafkaActivitySink(producer sarama.SyncProducer, topic string, opts ...KafkaSinkOption) *KafkaActivitySink {
	if topic == "" {
		topic = DefaultActivityTopic
	}
	k := &KafkaActivitySink{
		producer: producer,
		topic:    topic,
		encode:   encodeActivityJSON,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

func encodeActivityJSON(event ActivityEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "marshal activity event")
	}
	return payload, nil
}

func (k *KafkaActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	payload, err := k.encode(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(event.UserID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
		},
	}

	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "publish activity event")
	}
	return nil
}

func (k *KafkaActivitySink) Close() error {
	return k.producer.Close()
}
