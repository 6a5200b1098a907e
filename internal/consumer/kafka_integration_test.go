//go:build integration

package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/retirement/internal/domain"
)

func TestKafkaTimelineEventProjectsForecast(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.5.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	broker := brokers[0]

	topic := "timeline_events"

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	owner := domain.Owner{TenantID: "tenant-1", UserID: "user-1"}
	repo := seededRepo(t, owner)
	handler := NewProjectionHandler(repo, WithProjectionLogger(testLogger()), WithProjectionClock(projectionClock))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     "retirement-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()

	proc := NewProcessor(reader, handler, WithLogger(testLogger()))
	go func() {
		_ = proc.Run(consumerCtx)
	}()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	env := repo.Events()[1]
	payload, err := env.Encode()
	require.NoError(t, err)
	dedupeKey := env.AggregateID + ":" + env.Type + ":int"

	record := kafka.Message{
		Key:   []byte(owner.TenantID + ":" + owner.UserID),
		Value: frame(7, payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
			{Key: "tenant_id", Value: []byte(owner.TenantID)},
			{Key: "schema_subject", Value: []byte(topic + "-" + env.Type)},
			{Key: "dedupe_key", Value: []byte(dedupeKey)},
		},
	}
	// The second copy simulates a DLQ replay of the same outbox row.
	require.NoError(t, writer.WriteMessages(context.Background(), record, record))

	require.Eventually(t, func() bool {
		history, _, err := repo.ListForecasts(ctx, owner, nil, 10)
		return err == nil && len(history) == 1
	}, 30*time.Second, 500*time.Millisecond)

	time.Sleep(2 * time.Second)
	history, _, err := repo.ListForecasts(ctx, owner, nil, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, dedupeKey, history[0].SourceEvent)
	require.Equal(t, 20, history[0].Forecast.TotalWorkYears)
}
