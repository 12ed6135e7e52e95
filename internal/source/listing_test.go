package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/catalog"
	"github.com/chairwatch/chairwatch/internal/ratelimit"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

const listingHTML = `<html><body>
<div class="vacancy">
	<h3 class="title"><a href="/jobs/101">Professor of Statistics</a></h3>
	<span class="inst">Leiden University</span>
	<span class="loc">Leiden, Netherlands</span>
	<span class="deadline">2026-03-01</span>
</div>
<div class="vacancy">
	<h3 class="title"><a href="/jobs/102">Assistant Professor of Data Science</a></h3>
	<span class="inst">Aarhus University</span>
	<span class="loc">Aarhus, Denmark</span>
	<span class="deadline">2026-04-15</span>
</div>
<div class="vacancy">
	<h3 class="title"><a href="">Broken entry</a></h3>
</div>
</body></html>`

func newListingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(listingHTML))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testListingConfig(url string) ListingConfig {
	return ListingConfig{
		ID:                  "test-board",
		URL:                 url,
		Language:            "en",
		ItemSelector:        "div.vacancy",
		TitleSelector:       "h3.title a",
		LinkSelector:        "h3.title a",
		InstitutionSelector: "span.inst",
		LocationSelector:    "span.loc",
		ClosingSelector:     "span.deadline",
	}
}

func newTestAdapter(t *testing.T, cfg ListingConfig) *ListingAdapter {
	t.Helper()
	adapter, err := NewListingAdapter(cfg,
		ratelimit.New(ratelimit.Config{}),
		fixedClock{at: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		zap.NewNop())
	require.NoError(t, err)
	return adapter
}

func TestListingAdapterCollect(t *testing.T) {
	t.Parallel()

	srv := newListingServer(t)
	adapter := newTestAdapter(t, testListingConfig(srv.URL))

	postings, err := adapter.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, postings, 2, "entries without a link are skipped")

	first := postings[0]
	require.Equal(t, "Professor of Statistics", first.Title)
	require.Equal(t, srv.URL+"/jobs/101", first.URL)
	require.Equal(t, "Leiden University", first.Institution)
	require.Equal(t, "Leiden, Netherlands", first.Location)
	require.Equal(t, "2026-03-01", first.ClosingDate)
	require.Equal(t, "test-board", first.SourceID)
	require.Equal(t, "en", first.Language)
	require.False(t, first.ObservedAt.IsZero())
}

func TestListingAdapterUnavailableSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	adapter := newTestAdapter(t, testListingConfig(srv.URL))
	_, err := adapter.Collect(context.Background())
	require.ErrorIs(t, err, catalog.ErrSourceUnavailable)
}

func TestNewListingAdapterValidatesSelectors(t *testing.T) {
	t.Parallel()

	cfg := testListingConfig("https://board.example")
	cfg.ItemSelector = ""
	_, err := NewListingAdapter(cfg, ratelimit.New(ratelimit.Config{}), fixedClock{}, zap.NewNop())
	require.Error(t, err)
}

func TestRegistryOrdersAndRejectsDuplicates(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	bCfg := testListingConfig("https://b.example")
	bCfg.ID = "bbb"
	b := newTestAdapter(t, bCfg)
	aCfg := testListingConfig("https://a.example")
	aCfg.ID = "aaa"
	a := newTestAdapter(t, aCfg)

	require.NoError(t, reg.Register(b))
	require.NoError(t, reg.Register(a))
	require.Error(t, reg.Register(a), "duplicate ids are rejected")

	adapters := reg.Adapters()
	require.Len(t, adapters, 2)
	require.Equal(t, "aaa", adapters[0].SourceID())
	require.Equal(t, "bbb", adapters[1].SourceID())
}
