package workbook

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
)

func testLoader() *Loader {
	return NewLoader(5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

// buildWorkbook writes an xlsx with one sheet per entry. The first row of each sheet is a header.
func buildWorkbook(t *testing.T, sheets map[string][][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for name, rows := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		for r, row := range rows {
			for c, v := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				require.NoError(t, err)
				require.NoError(t, f.SetCellValue(name, cell, v))
			}
		}
	}
	require.NoError(t, f.DeleteSheet("Sheet1"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func ssyk96Workbook(t *testing.T) []byte {
	header := []any{"code", "name"}
	return buildWorkbook(t, map[string][][]any{
		"Level_1": {header, {0, "Armed forces"}, {2, "Professionals"}},
		"Level_2": {header, {1, "Armed forces"}, {21, "Physical, mathematical and engineering science professionals"}},
		"Level_3": {header, {11, "Armed forces"}, {213, "Computing professionals"}, {"n/a", "skipped"}},
		"Level_4": {header, {110, "Armed forces"}, {"2131", "Computer systems designers and analysts"}, {2132, ""}},
	})
}

func TestParse_SSYK96(t *testing.T) {
	tr, err := Parse(bytes.NewReader(ssyk96Workbook(t)), domain.SSYK96)
	require.NoError(t, err)

	label, ok := tr.Lookup(4, "0110")
	assert.True(t, ok)
	assert.Equal(t, "Armed forces", label)

	label, ok = tr.Lookup(3, "213")
	assert.True(t, ok)
	assert.Equal(t, "Computing professionals", label)

	_, ok = tr.Lookup(2, "1")
	assert.False(t, ok, "codes are zero-padded to the level width")
	_, ok = tr.Lookup(2, "01")
	assert.True(t, ok)

	_, ok = tr.Lookup(4, "2132")
	assert.False(t, ok, "rows without a name are skipped")
	assert.Equal(t, 8, tr.Len())
}

func TestParse_MissingSheet(t *testing.T) {
	body := buildWorkbook(t, map[string][][]any{
		"1-digit": {{"code", "name"}, {2, "Professionals"}},
	})
	_, err := Parse(bytes.NewReader(body), domain.SSYK2012)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrData))
	assert.Contains(t, err.Error(), "2-digit")
}

func TestParse_NotAWorkbook(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("code,name\n1,x\n")), domain.SSYK96)
	assert.True(t, errors.Is(err, domain.ErrData))
}

func TestLoader_LoadLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssyk96_translation.xlsx")
	require.NoError(t, os.WriteFile(path, ssyk96Workbook(t), 0o600))

	tr, err := testLoader().Load(context.Background(), path, domain.SSYK96)
	require.NoError(t, err)
	assert.Equal(t, 8, tr.Len())
}

func TestLoader_LoadURL(t *testing.T) {
	body := ssyk96Workbook(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	tr, err := testLoader().Load(context.Background(), srv.URL+"/ssyk96.xlsx", domain.SSYK96)
	require.NoError(t, err)
	assert.Equal(t, 8, tr.Len())
}

func TestLoader_LoadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	l := testLoader()
	ctx := context.Background()

	_, err := l.Load(ctx, "", domain.SSYK96)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, err = l.Load(ctx, filepath.Join(t.TempDir(), "missing.xlsx"), domain.SSYK96)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, err = l.Load(ctx, "ftp://example.com/ssyk96.xlsx", domain.SSYK96)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, err = l.Load(ctx, srv.URL+"/ssyk96.xlsx", domain.SSYK96)
	assert.True(t, errors.Is(err, domain.ErrNetwork))
}
