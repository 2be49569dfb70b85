package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testWriter(fw *fakeWriter) *Writer {
	return &Writer{
		writer:  fw,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: observability.NewMetricsForTesting(),
	}
}

func testResult() domain.Result {
	row := domain.AggregateRow{
		Taxonomy: domain.SSYK96, Level: 3, Code: "213", Label: "Computing professionals",
		Year: 2020, NChildren: 2, Employment: 1200,
		Values: []float64{0.42, math.NaN()}, Percentiles: []float64{0.75, math.NaN()},
	}
	metrics := []string{"daioe_allapps", "daioe_genai"}
	return domain.Result{
		Taxonomy: domain.SSYK96,
		RunID:    "run-1",
		SCBYear:  2023,
		Weighted: domain.Table{Weighting: domain.WeightingEmployment, Metrics: metrics, Rows: []domain.AggregateRow{row}},
		Simple:   domain.Table{Weighting: domain.WeightingSimple, Metrics: metrics, Rows: []domain.AggregateRow{row}},
	}
}

func TestSerializeRow(t *testing.T) {
	r := testResult()

	msg, err := serializeRow(r, r.Weighted, r.Weighted.Rows[0])
	require.NoError(t, err)

	assert.Equal(t, []byte("ssyk96|emp_weighted|3|213|2020"), msg.Key)
	assert.JSONEq(t, `{
		"taxonomy": "ssyk96",
		"weighting": "emp_weighted",
		"level": 3,
		"code": "213",
		"label": "Computing professionals",
		"year": 2020,
		"n_children": 2,
		"employment": 1200,
		"metrics": {"daioe_allapps": 0.42, "daioe_genai": null},
		"percentiles": {"pct_rank_allapps": 0.75, "pct_rank_genai": null}
	}`, string(msg.Value))
	require.Len(t, msg.Headers, 4)
	assert.Equal(t, "taxonomy", msg.Headers[0].Key)
	assert.Equal(t, []byte("ssyk96"), msg.Headers[0].Value)
	assert.Equal(t, "weighting", msg.Headers[1].Key)
	assert.Equal(t, []byte("emp_weighted"), msg.Headers[1].Value)
	assert.Equal(t, "scb_year", msg.Headers[2].Key)
	assert.Equal(t, []byte("2023"), msg.Headers[2].Value)
}

func TestWriter_Publish(t *testing.T) {
	fw := &fakeWriter{}
	w := testWriter(fw)

	require.NoError(t, w.Publish(context.Background(), testResult()))

	require.Len(t, fw.msgs, 2)
	assert.Equal(t, "ssyk96|emp_weighted|3|213|2020", string(fw.msgs[0].Key))
	assert.Equal(t, "ssyk96|simple_avg|3|213|2020", string(fw.msgs[1].Key))
	assert.InDelta(t, 2, promtest.ToFloat64(w.metrics.RowsPublished), 0)

	require.NoError(t, w.Close())
	assert.True(t, fw.closed)
}

func TestWriter_PublishEmpty(t *testing.T) {
	fw := &fakeWriter{err: errors.New("should not be called")}
	assert.NoError(t, testWriter(fw).Publish(context.Background(), domain.Result{Taxonomy: domain.SSYK2012}))
}

func TestWriter_PublishUnencodableRow(t *testing.T) {
	r := testResult()
	r.Simple.Rows[0].Values = []float64{math.Inf(1), math.NaN()}

	fw := &fakeWriter{}
	err := testWriter(fw).Publish(context.Background(), r)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrData)
	assert.Contains(t, err.Error(), "213")
	assert.Empty(t, fw.msgs, "nothing is written when a row fails to encode")
}

func TestWriter_PublishError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("leader not available")}
	err := testWriter(fw).Publish(context.Background(), testResult())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Contains(t, err.Error(), "leader not available")
}
