package indiegala

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"galaclient-backend/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const showcasePageOne = `<!DOCTYPE html>
<html><body>
<div class="library-showcase">
    <a class="library-showcase-title" href="/library/foo-game/">Foo Game</a>
    <button class="library-showcase-download-btn"
        onclick="location.href = 'https://content.indiegalacdn.com/abc123/foo-game_win.zip'">Windows</button>
    <button class="library-showcase-download-btn"
        onclick="location.href = 'https://content.indiegalacdn.com/abc123/foo-game_lin.zip'">Linux</button>
</div>
<div class="library-showcase">
    <a class="library-showcase-title" href="/library/bar-game/">Bar Game</a>
    <button class="library-showcase-download-btn"
        onclick="location.href = 'https://content.indiegalacdn.com/def456/bar-game_mac.zip'">Mac</button>
    <button class="library-showcase-download-btn"
        onclick="window.open('about:blank')">Broken</button>
</div>
</body></html>`

const showcaseEmptyPage = `<!DOCTYPE html>
<html><body>
<div class="profile-private-page-library-empty">No games here.</div>
</body></html>`

type fakeSink struct {
	links   map[string]map[OsTag]string
	catalog []CatalogEntry
	flushes int
}

func newFakeSink() *fakeSink {
	return &fakeSink{links: map[string]map[OsTag]string{}}
}

func (f *fakeSink) Put(productId string, osTag OsTag, downloadUrl string) {
	byOs := f.links[productId]
	if byOs == nil {
		byOs = map[OsTag]string{}
		f.links[productId] = byOs
	}
	byOs[osTag] = downloadUrl
}

func (f *fakeSink) PutCatalog(entries []CatalogEntry) {
	f.catalog = entries
}

func (f *fakeSink) Flush(ctx context.Context) error {
	f.flushes++
	return nil
}

func TestScrapeOwnedCatalog(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/scrapers/indiegala")
	defer cleanup()

	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch r.URL.Path {
		case "/library/showcase/1":
			w.Write([]byte(showcasePageOne))
		case "/library/showcase/2":
			w.Write([]byte(showcaseEmptyPage))
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	session := newTestSession(t, server.URL)
	sink := newFakeSink()
	scraper := NewShowcaseScraper(ShowcaseScraperOptions{
		Session: session,
		Links:   sink,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	catalog, err := scraper.ScrapeOwnedCatalog(ctx)
	require.NoError(t, err)

	// the empty marker on page 2 terminates the walk
	require.EqualValues(t, 2, requests.Load())

	want := []CatalogEntry{
		{ProductId: "foo-game", Title: "Foo Game", License: LicenseSinglePurchase},
		{ProductId: "bar-game", Title: "Bar Game", License: LicenseSinglePurchase},
	}
	diff := cmp.Diff(want, catalog)
	require.Empty(t, diff)

	require.Equal(t, map[string]map[OsTag]string{
		"foo-game": {
			OsWindows: "https://content.indiegalacdn.com/abc123/foo-game_win.zip",
			OsLinux:   "https://content.indiegalacdn.com/abc123/foo-game_lin.zip",
		},
		"bar-game": {
			OsMac: "https://content.indiegalacdn.com/def456/bar-game_mac.zip",
		},
	}, sink.links)

	diff = cmp.Diff(want, sink.catalog)
	require.Empty(t, diff)
	require.Equal(t, 1, sink.flushes)
}

func TestScrapeEmptyLibrary(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/scrapers/indiegala")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(showcaseEmptyPage))
	}))
	defer server.Close()

	session := newTestSession(t, server.URL)
	sink := newFakeSink()
	scraper := NewShowcaseScraper(ShowcaseScraperOptions{
		Session: session,
		Links:   sink,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	// an empty library is a value, not a failure
	catalog, err := scraper.ScrapeOwnedCatalog(ctx)
	require.NoError(t, err)
	require.Empty(t, catalog)
	require.Equal(t, 1, sink.flushes)
}

func TestScrapeChallengePropagates(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/scrapers/indiegala")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><script src="/_Incapsula_Resource?SWJIYLWA=1"></script></html>`))
	}))
	defer server.Close()

	session := newTestSession(t, server.URL)
	sink := newFakeSink()
	scraper := NewShowcaseScraper(ShowcaseScraperOptions{
		Session: session,
		Links:   sink,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, err := scraper.ScrapeOwnedCatalog(ctx)
	require.ErrorIs(t, err, ErrChallengeDetected)
	require.Zero(t, sink.flushes)
}

func TestParseDownloadControl(t *testing.T) {
	cases := []struct {
		onclick string
		want    DownloadLink
		ok      bool
	}{
		{
			onclick: "location.href = 'https://content.indiegalacdn.com/abc/foo-game_win.zip'",
			want: DownloadLink{
				ProductId: "foo-game",
				Os:        OsWindows,
				Url:       "https://content.indiegalacdn.com/abc/foo-game_win.zip",
			},
			ok: true,
		},
		{
			// ids may themselves contain underscores
			onclick: "location.href='https://content.indiegalacdn.com/abc/my_foo_game_lin.zip'",
			want: DownloadLink{
				ProductId: "my_foo_game",
				Os:        OsLinux,
				Url:       "https://content.indiegalacdn.com/abc/my_foo_game_lin.zip",
			},
			ok: true,
		},
		{onclick: "window.open('about:blank')", ok: false},
		{onclick: "location.href = 'https://content.indiegalacdn.com/abc/foo-game_amiga.zip'", ok: false},
		{onclick: "", ok: false},
	}

	for i, c := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			got, ok := parseDownloadControl(c.onclick)
			require.Equal(t, c.ok, ok)
			if c.ok {
				require.Equal(t, c.want, got)
			}
		})
	}
}
