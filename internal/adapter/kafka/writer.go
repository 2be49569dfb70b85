package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/couchcryptid/daioe-etl/internal/config"
	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes aggregate rows to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer  messageWriter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaSinkTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger, metrics: metrics}
}

// Publish serializes both tables of a result and writes them in a single
// WriteMessages call. Rows keep a stable key, so reruns of the same year land
// on the same partition.
func (w *Writer) Publish(ctx context.Context, r domain.Result) error {
	msgs := make([]kafkago.Message, 0, len(r.Weighted.Rows)+len(r.Simple.Rows))
	for _, t := range []domain.Table{r.Weighted, r.Simple} {
		for _, row := range t.Rows {
			msg, err := serializeRow(r, t, row)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("%w: publish %s aggregates: %w", domain.ErrNetwork, r.Taxonomy, err)
	}
	w.metrics.RowsPublished.Add(float64(len(msgs)))
	w.logger.Info("aggregates published", "taxonomy", r.Taxonomy, "run_id", r.RunID, "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// MessageKey identifies one aggregate row: taxonomy|weighting|level|code|year.
func MessageKey(tax domain.Taxonomy, weighting domain.Weighting, level int, code string, year int) string {
	return fmt.Sprintf("%s|%s|%d|%s|%d", tax, weighting, level, code, year)
}

// serializeRow marshals one aggregate row into a Kafka message.
func serializeRow(r domain.Result, t domain.Table, row domain.AggregateRow) (kafkago.Message, error) {
	data, err := json.Marshal(t.View(row))
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("%w: serialize aggregate row %s: %w", domain.ErrData, row.Code, err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(row.Taxonomy, t.Weighting, row.Level, row.Code, row.Year)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "taxonomy", Value: []byte(r.Taxonomy)},
			{Key: "weighting", Value: []byte(t.Weighting)},
			{Key: "scb_year", Value: []byte(strconv.Itoa(r.SCBYear))},
			{Key: "run_id", Value: []byte(r.RunID)},
		},
	}, nil
}
