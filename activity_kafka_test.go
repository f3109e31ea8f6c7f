package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/activitymap"
)

func newMockProducer(t *testing.T) *mocks.SyncProducer {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func TestKafkaActivitySinkPublishesJSON(t *testing.T) {
	producer := newMockProducer(t)
	userID := uuid.NewString()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var evt auth.ActivityEvent
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}
		if evt.EventType != auth.ActivityEventUserInvited || evt.UserID != userID {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	sink := auth.NewKafkaActivitySink(producer, "")
	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventUserInvited,
		UserID:    userID,
		Metadata:  map[string]any{"role": "member"},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

func TestKafkaActivitySinkReportsFailures(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := auth.NewKafkaActivitySink(producer, "audit")
	err := sink.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLogout})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestKafkaActivitySinkHonorsCancellation(t *testing.T) {
	producer := newMockProducer(t)
	sink := auth.NewKafkaActivitySink(producer, "audit")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLogout})
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, sink.Close(), "nothing was sent")
}

func TestNewKafkaProducerRequiresBrokers(t *testing.T) {
	_, err := auth.NewKafkaProducer(nil)
	assert.Error(t, err)
}

func TestMultiActivitySinkFansOut(t *testing.T) {
	first, second := &capturingSink{}, &capturingSink{}
	failing := auth.ActivitySinkFunc(func(context.Context, auth.ActivityEvent) error {
		return errors.New("down")
	})

	multi := auth.MultiActivitySink{first, failing, nil, second}
	err := multi.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLogout})
	assert.EqualError(t, err, "down")

	assert.Len(t, first.ofType(auth.ActivityEventLogout), 1)
	assert.Len(t, second.ofType(auth.ActivityEventLogout), 1, "later sinks still run")
}

func TestKafkaActivitySinkUsesNormalizedEncoder(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var rec activitymap.Normalized
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		if rec.ObjectType != activitymap.ObjectTypeProject || rec.ObjectID != "proj-1" {
			return errors.New("expected a normalized project record")
		}
		return nil
	})

	sink := auth.NewKafkaActivitySink(producer, "audit", auth.WithKafkaEncoder(activitymap.Encode))
	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventMemberRemoved,
		UserID:    uuid.NewString(),
		Metadata:  map[string]any{"project_id": "proj-1"},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}
