package stubs

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/feedsync/internal/feed"
	"github.com/Rajchodisetti/feedsync/internal/gateway"
)

func TestHealthAndAdminRoutes(t *testing.T) {
	srv := NewServer(Config{Release: true})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions":0`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/status", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/status", strings.NewReader(`{"code":1102}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions":0`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/drop", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dropped":0`)
}

func TestFixtureRoundTrip(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	data, err := MarshalFixture(map[string][]feed.Bar{
		"aapl": {{Time: t0.Add(time.Minute), Close: 2}, {Time: t0, Close: 1}},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bars.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	bars, err := LoadBarsFixture(path)
	require.NoError(t, err)
	require.Len(t, bars["AAPL"], 2)
	assert.True(t, bars["AAPL"][0].Time.Equal(t0), "sorted by time")

	_, err = LoadBarsFixture(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestHistoryRange(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var bars []feed.Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, feed.Bar{Time: t0.Add(time.Duration(i) * time.Minute)})
	}
	srv := NewServer(Config{Release: true, MaxHistoryBars: 3, Fixtures: map[string][]feed.Bar{"AAPL": bars}})

	end := t0.Add(5 * time.Minute)
	begin := t0.Add(2 * time.Minute)
	got := srv.history(gateway.Request{Contract: &feed.ContractSpec{Symbol: "aapl"}, Begin: &begin, End: &end})
	require.Len(t, got, 3)
	assert.Equal(t, t0.Add(3*time.Minute), got[0].Time)

	got = srv.history(gateway.Request{Contract: &feed.ContractSpec{Symbol: "AAPL"}, End: &end})
	require.Len(t, got, 3, "unbounded requests are capped")
	assert.Equal(t, end, got[2].Time)

	walk := srv.history(gateway.Request{Contract: &feed.ContractSpec{Symbol: "NVDA"}, End: &end, TimeFrame: "minutes", Compression: 1})
	assert.Len(t, walk, 3)
}

func TestContractFor(t *testing.T) {
	srv := NewServer(Config{Release: true, Unknown: []string{"BAD"}})
	a, ok := srv.contractFor(feed.ContractSpec{Symbol: "aapl"})
	require.True(t, ok)
	b, ok := srv.contractFor(feed.ContractSpec{Symbol: "AAPL"})
	require.True(t, ok)
	assert.Equal(t, a.ID, b.ID)

	fx, ok := srv.contractFor(feed.ContractSpec{Symbol: "EUR", SecType: "CASH"})
	require.True(t, ok)
	assert.Equal(t, "UTC", fx.TimeZone)

	_, ok = srv.contractFor(feed.ContractSpec{Symbol: "bad"})
	assert.False(t, ok)
}
