package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/daioe-etl/internal/adapter/cache"
	"github.com/couchcryptid/daioe-etl/internal/adapter/daioe"
	"github.com/couchcryptid/daioe-etl/internal/adapter/scb"
	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
	"github.com/couchcryptid/daioe-etl/internal/pipeline"
	"github.com/couchcryptid/daioe-etl/internal/testutil"
)

func newSourcePipeline(t *testing.T, srv *testutil.MockSources, store pipeline.Store) *pipeline.Pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	fetcher := scb.NewClient(srv.URL(), "en", 5*time.Second, logger, metrics)
	loader := daioe.NewLoader(map[domain.Taxonomy]string{domain.SSYK2012: srv.CSVURL(domain.SSYK2012)}, ',', 5*time.Second, logger, metrics)

	opts := []pipeline.Option{pipeline.WithClock(clockwork.NewFakeClockAt(fixedTime))}
	if store != nil {
		opts = append(opts, pipeline.WithStore(store))
	}
	return pipeline.New(fetcher, loader, logger, metrics, opts...)
}

func TestEndToEnd_SampleSources(t *testing.T) {
	srv := testutil.NewSampleSources()
	defer srv.Close()

	p := newSourcePipeline(t, srv, nil)
	r, err := p.Run(context.Background(), domain.SSYK2012, pipeline.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2023, r.SCBYear)
	assert.Equal(t, []string{"daioe_allapps", "daioe_genai"}, r.Weighted.Metrics)
	// 3 level-4, 2 level-3, 2 level-2 and 1 level-1 codes, in two DAIOE years.
	assert.Len(t, r.Weighted.Rows, 16)
	assert.Len(t, r.Simple.Rows, 16)

	grp := findRow(t, r.Weighted, 3, "251")
	assert.Equal(t, 2022, grp.Year)
	assert.Equal(t, "Mjukvaru- och systemutvecklare m.fl.", grp.Label)
	assert.InDelta(t, 2.5, grp.Values[0], 1e-12, "(100*1 + 300*3) / 400")
	assert.InDelta(t, 2.0, grp.Values[1], 1e-12, "missing genai for 2513 is left out")
	assert.InDelta(t, 2.0, findRow(t, r.Simple, 3, "251").Values[0], 1e-12)

	top := findRow(t, r.Weighted, 1, "2")
	assert.InDelta(t, 1025.0/450.0, top.Values[0], 1e-12)
	assert.Equal(t, 2, top.NChildren)
	assert.EqualValues(t, 450, top.Employment)

	leaf := findRow(t, r.Weighted, 4, "2512")
	assert.InDelta(t, 2.0/3.0, leaf.Percentiles[0], 1e-12)
	assert.Equal(t, 1, leaf.NChildren)

	for _, row := range r.Weighted.Rows {
		assert.NotEqual(t, "0", row.Code, "employment-only occupations produce no rows")
	}
}

func TestEndToEnd_CacheFidelity(t *testing.T) {
	srv := testutil.NewSampleSources()
	defer srv.Close()

	store, err := cache.NewFileStore(filepath.Join(t.TempDir(), "data"), clockwork.NewFakeClockAt(fixedTime))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := newSourcePipeline(t, srv, store).Run(ctx, domain.SSYK2012, pipeline.RunOptions{})
	require.NoError(t, err)
	require.False(t, first.FromCache)

	srv.FailWith(http.StatusInternalServerError)
	requests := srv.Requests()

	second, err := newSourcePipeline(t, srv, store).Run(ctx, domain.SSYK2012, pipeline.RunOptions{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, requests, srv.Requests(), "no network access on a cache hit")
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, first.SCBYear, second.SCBYear)

	opts := cmpopts.EquateNaNs()
	if diff := cmp.Diff(first.Weighted, second.Weighted, opts); diff != "" {
		t.Errorf("weighted table changed through the cache (-computed +cached):\n%s", diff)
	}
	if diff := cmp.Diff(first.Simple, second.Simple, opts); diff != "" {
		t.Errorf("simple table changed through the cache (-computed +cached):\n%s", diff)
	}

	_, err = newSourcePipeline(t, srv, store).Run(ctx, domain.SSYK2012, pipeline.RunOptions{Refresh: true})
	require.Error(t, err, "refresh goes to the network even when a cache entry exists")
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestEndToEnd_MalformedCSV(t *testing.T) {
	srv := testutil.NewMockSources()
	defer srv.Close()
	srv.SetEmployment(domain.SSYK2012, testutil.SampleEmployment())
	srv.SetCSV(domain.SSYK2012, "year,ssyk2012_1\n2022,2 x\n")

	_, err := newSourcePipeline(t, srv, nil).Run(context.Background(), domain.SSYK2012, pipeline.RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrData)

	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageLoad, stageErr.Stage)
}
