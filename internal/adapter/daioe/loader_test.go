package daioe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
	"github.com/couchcryptid/daioe-etl/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoader(urls map[domain.Taxonomy]string) *Loader {
	return NewLoader(urls, ',', 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func TestParse_Sample(t *testing.T) {
	ds, err := Parse(strings.NewReader(testutil.SampleCSV), domain.SSYK2012, ',')
	require.NoError(t, err)

	assert.Equal(t, domain.SSYK2012, ds.Taxonomy)
	assert.Equal(t, []string{"daioe_allapps", "daioe_genai"}, ds.Metrics)
	require.Len(t, ds.Rows, 6)

	first := ds.Rows[0]
	assert.Equal(t, 2022, first.Year)
	assert.Equal(t, [domain.MaxLevel]string{"2", "25", "251", "2512"}, first.Codes)
	assert.Equal(t, "IKT-specialister", first.Labels[1])
	assert.Equal(t, "Mjukvaru- och systemutvecklare", first.Label(4))
	assert.Equal(t, []float64{1.0, 2.0}, first.Values)

	assert.True(t, math.IsNaN(ds.Rows[1].Values[1]), "empty metric cell is NaN")
}

func TestParse_SemicolonAndPadding(t *testing.T) {
	csv := "Unnamed: 0;year;ssyk96_1;ssyk96_2;ssyk96_3;ssyk96_4;daioe_genai\n" +
		"0;2010.0;0 Militärer;01 Officerare;011 Officerare;110 Officerare;0.25\n"

	ds, err := Parse(strings.NewReader(csv), domain.SSYK96, ';')
	require.NoError(t, err)
	require.Len(t, ds.Rows, 1)
	assert.Equal(t, 2010, ds.Rows[0].Year)
	assert.Equal(t, [domain.MaxLevel]string{"0", "01", "011", "0110"}, ds.Rows[0].Codes)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"header only":    ",year,ssyk2012_1,ssyk2012_2,ssyk2012_3,ssyk2012_4,daioe_genai\n",
		"missing column": "year,ssyk2012_1,ssyk2012_2,ssyk2012_4,daioe_genai\n2022,2 a,25 b,2512 c,1\n",
		"no metrics":     "year,ssyk2012_1,ssyk2012_2,ssyk2012_3,ssyk2012_4\n2022,2 a,25 b,251 c,2512 d\n",
		"bad year":       "year,ssyk2012_1,ssyk2012_2,ssyk2012_3,ssyk2012_4,daioe_genai\nlast,2 a,25 b,251 c,2512 d,1\n",
		"bad metric":     "year,ssyk2012_1,ssyk2012_2,ssyk2012_3,ssyk2012_4,daioe_genai\n2022,2 a,25 b,251 c,2512 d,high\n",
		"bad code":       "year,ssyk2012_1,ssyk2012_2,ssyk2012_3,ssyk2012_4,daioe_genai\n2022,2 a,25 b,251 c,X512 d,1\n",
		"ragged row":     "year,ssyk2012_1,ssyk2012_2,ssyk2012_3,ssyk2012_4,daioe_genai\n2022,2 a,25 b\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(body), domain.SSYK2012, ',')
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrData), "got %v", err)
		})
	}
}

func TestParse_MissingColumnsNamed(t *testing.T) {
	_, err := Parse(strings.NewReader("year,daioe_genai\n2022,1\n"), domain.SSYK96, ',')
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssyk96_1, ssyk96_2, ssyk96_3, ssyk96_4")
}

func TestSplitCodeLabel(t *testing.T) {
	code, label := SplitCodeLabel(" 2512 Mjukvaru- och systemutvecklare ")
	assert.Equal(t, "2512", code)
	assert.Equal(t, "Mjukvaru- och systemutvecklare", label)

	code, label = SplitCodeLabel("2512")
	assert.Equal(t, "2512", code)
	assert.Empty(t, label)
}

func TestLoader_Load(t *testing.T) {
	srv := testutil.NewSampleSources()
	defer srv.Close()

	l := testLoader(map[domain.Taxonomy]string{domain.SSYK2012: srv.CSVURL(domain.SSYK2012)})
	ds, err := l.Load(context.Background(), domain.SSYK2012)
	require.NoError(t, err)
	assert.Len(t, ds.Rows, 6)
}

func TestLoader_LoadHTTPError(t *testing.T) {
	srv := testutil.NewSampleSources()
	defer srv.Close()
	srv.FailWith(http.StatusNotFound)

	l := testLoader(map[domain.Taxonomy]string{domain.SSYK2012: srv.CSVURL(domain.SSYK2012)})
	_, err := l.Load(context.Background(), domain.SSYK2012)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNetwork))
	assert.Contains(t, err.Error(), "status 404")
}

func TestLoader_LoadEmptyBody(t *testing.T) {
	srv := testutil.NewMockSources()
	defer srv.Close()
	srv.SetCSV(domain.SSYK96, "")

	l := testLoader(map[domain.Taxonomy]string{domain.SSYK96: srv.CSVURL(domain.SSYK96)})
	_, err := l.Load(context.Background(), domain.SSYK96)
	assert.True(t, errors.Is(err, domain.ErrData))
}

func TestLoader_UnknownTaxonomy(t *testing.T) {
	_, err := testLoader(nil).Load(context.Background(), domain.Taxonomy("isco08"))
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestNewLoader_Defaults(t *testing.T) {
	l := NewLoader(map[domain.Taxonomy]string{domain.SSYK96: "", domain.SSYK2012: "http://mirror/x.csv"}, 0, time.Second, nil, nil)
	assert.Equal(t, ',', l.sep)
	assert.Equal(t, DefaultURLs[domain.SSYK96], l.urls[domain.SSYK96])
	assert.Equal(t, "http://mirror/x.csv", l.urls[domain.SSYK2012])
}

func TestDefaultURLs_OneTranslatedFilePerTaxonomy(t *testing.T) {
	require.Len(t, DefaultURLs, len(domain.AllTaxonomies))
	for _, tax := range domain.AllTaxonomies {
		assert.True(t, strings.HasSuffix(DefaultURLs[tax], "/daioe_"+string(tax)+"_translated.csv"), tax)
	}
}
