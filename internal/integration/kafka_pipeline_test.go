//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/daioe-etl/internal/adapter/daioe"
	"github.com/couchcryptid/daioe-etl/internal/adapter/kafka"
	"github.com/couchcryptid/daioe-etl/internal/adapter/scb"
	"github.com/couchcryptid/daioe-etl/internal/config"
	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
	"github.com/couchcryptid/daioe-etl/internal/pipeline"
	"github.com/couchcryptid/daioe-etl/internal/testutil"
)

const testSinkTopic = "test-aggregates"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("daioe-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	}))
}

// publishedRow holds a deserialized message read from the sink topic.
type publishedRow struct {
	Row     domain.RowView
	Key     string
	Headers map[string]string
}

func readRow(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedRow {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var row domain.RowView
	require.NoError(t, json.Unmarshal(msg.Value, &row), "unmarshal sink message")
	return publishedRow{Row: row, Key: string(msg.Key), Headers: headers}
}

// TestPipelinePublishesAggregates runs the pipeline against mock SCB and
// DAIOE sources and reads every aggregate row back from Kafka.
func TestPipelinePublishesAggregates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	srv := testutil.NewSampleSources()
	t.Cleanup(srv.Close)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}
	metrics := observability.NewMetricsForTesting()
	writer := kafka.NewWriter(cfg, discardLogger(), metrics)
	t.Cleanup(func() { _ = writer.Close() })

	p := pipeline.New(
		scb.NewClient(srv.URL(), "en", 10*time.Second, discardLogger(), metrics),
		daioe.NewLoader(map[domain.Taxonomy]string{domain.SSYK2012: srv.CSVURL(domain.SSYK2012)}, ',', 10*time.Second, discardLogger(), metrics),
		discardLogger(), metrics,
		pipeline.WithPublisher(writer),
	)
	res, err := p.Run(ctx, domain.SSYK2012, pipeline.RunOptions{})
	require.NoError(t, err)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	want := len(res.Weighted.Rows) + len(res.Simple.Rows)
	received := make(map[string]publishedRow, want)
	for len(received) < want {
		pr := readRow(ctx, t, consumer)
		received[pr.Key] = pr
	}
	require.Len(t, received, want, "every row has a distinct key")

	key := kafka.MessageKey(domain.SSYK2012, domain.WeightingEmployment, 3, "251", 2022)
	pr, ok := received[key]
	require.True(t, ok, "missing %s", key)
	assert.Equal(t, "ssyk2012", pr.Headers["taxonomy"])
	assert.Equal(t, "emp_weighted", pr.Headers["weighting"])
	assert.Equal(t, "2023", pr.Headers["scb_year"])
	assert.Equal(t, res.RunID, pr.Headers["run_id"])
	require.NotNil(t, pr.Row.Metrics["daioe_allapps"])
	assert.InDelta(t, 2.5, *pr.Row.Metrics["daioe_allapps"], 1e-12)
	assert.EqualValues(t, 400, pr.Row.Employment)

	simple := received[kafka.MessageKey(domain.SSYK2012, domain.WeightingSimple, 3, "251", 2022)]
	require.NotNil(t, simple.Row.Metrics["daioe_allapps"])
	assert.InDelta(t, 2.0, *simple.Row.Metrics["daioe_allapps"], 1e-12)
}
