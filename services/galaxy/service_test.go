package galaxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"galaclient-backend/lib/linkstore"
	"galaclient-backend/lib/scrapers/indiegala"
	"galaclient-backend/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const showcasePage = `<!DOCTYPE html>
<html><body>
<div class="library-showcase">
    <a class="library-showcase-title" href="/library/foo-game/">Foo Game</a>
    <button class="library-showcase-download-btn"
        onclick="location.href = 'https://content.indiegalacdn.com/abc123/foo-game_win.zip'">Windows</button>
    <button class="library-showcase-download-btn"
        onclick="location.href = 'https://content.indiegalacdn.com/abc123/foo-game_lin.zip'">Linux</button>
    <button class="library-showcase-download-btn"
        onclick="location.href = 'https://content.indiegalacdn.com/abc123/foo-game_mac.zip'">Mac</button>
</div>
</body></html>`

const showcaseEmptyPage = `<!DOCTYPE html>
<html><body>
<div class="profile-private-page-library-empty">No games here.</div>
</body></html>`

type storefront struct {
	authenticated bool
}

func (f *storefront) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user_info":
			if !f.authenticated {
				w.Write([]byte(`{"user_found": "false"}`))
				return
			}
			w.Write([]byte(`{"user_found": "true", "_indiegala_username": "someone"}`))
		case "/library/showcase/1":
			w.Write([]byte(showcasePage))
		default:
			w.Write([]byte(showcaseEmptyPage))
		}
	})
}

func setup(t testing.TB, front *storefront) (*Service, func()) {
	cleanup := telemetry.SetupForTesting(t, "test:services/galaxy")

	server := httptest.NewServer(front.handler())

	service, err := NewService(context.Background(), Options{
		CacheDir:    t.TempDir(),
		BaseUrl:     server.URL,
		UserInfoUrl: server.URL + "/user_info",
	})
	if err != nil {
		t.Fatal(err)
	}

	return service, func() {
		err := service.Shutdown(context.Background(), false)
		if err != nil {
			t.Error(err)
		}
		server.Close()
		cleanup()
	}
}

func TestColdStartGetsLoginStep(t *testing.T) {
	service, cleanup := setup(t, &storefront{})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	identity, step, err := service.Authenticate(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, identity)
	require.NotNil(t, step)
	require.Equal(t, "web_session", step.Kind)
}

func TestExpiredSessionGetsFreshLoginStep(t *testing.T) {
	service, cleanup := setup(t, &storefront{authenticated: false})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	// an expired session surfaces as a step, never as an error
	identity, step, err := service.Authenticate(ctx, map[string]string{"auth": "stale"})
	require.NoError(t, err)
	require.Nil(t, identity)
	require.NotNil(t, step)
	require.Contains(t, step.StartUrl, "/login")
	require.Empty(t, step.Cookies)
}

func TestAuthenticatedFlow(t *testing.T) {
	front := &storefront{authenticated: true}
	service, cleanup := setup(t, front)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	{
		identity, step, err := service.Authenticate(ctx, map[string]string{"auth": "valid"})
		require.NoError(t, err)
		require.Nil(t, step)
		require.NotNil(t, identity)
		require.Equal(t, "someone", identity.Username)
	}
	{
		catalog, step, err := service.GetOwnedProducts(ctx)
		require.NoError(t, err)
		require.Nil(t, step)

		want := []indiegala.CatalogEntry{
			{ProductId: "foo-game", Title: "Foo Game", License: indiegala.LicenseSinglePurchase},
		}
		diff := cmp.Diff(want, catalog)
		require.Empty(t, diff)
	}
	{
		compat := service.GetOsCompatibility(ctx, "foo-game")
		require.Equal(t, indiegala.KnownOsTags, compat)

		// unknown products still answer, with an empty set
		compat = service.GetOsCompatibility(ctx, "never-seen")
		require.Empty(t, compat)
	}
}

func TestInstallProduct(t *testing.T) {
	front := &storefront{authenticated: true}

	var opened string
	cleanup := telemetry.SetupForTesting(t, "test:services/galaxy")
	defer cleanup()

	server := httptest.NewServer(front.handler())
	defer server.Close()

	service, err := NewService(context.Background(), Options{
		CacheDir:    t.TempDir(),
		BaseUrl:     server.URL,
		UserInfoUrl: server.URL + "/user_info",
		OpenUrl: func(ctx context.Context, rawUrl string) error {
			opened = rawUrl
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer service.Shutdown(context.Background(), false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, _, err = service.GetOwnedProducts(ctx)
	require.NoError(t, err)

	{
		err := service.InstallProductFor(ctx, "foo-game", indiegala.OsWindows)
		require.NoError(t, err)
		require.Equal(
			t,
			"https://content.indiegalacdn.com/DevShowcaseBuildsVolume/abc123/foo-game_win.zip",
			opened,
		)
	}
	{
		// with no explicit tag the build follows the running platform
		tag, ok := indiegala.CurrentOsTag()
		require.True(t, ok)

		err := service.InstallProduct(ctx, "foo-game")
		require.NoError(t, err)
		require.Contains(t, opened, "DevShowcaseBuildsVolume")
		require.Contains(t, opened, "foo-game_"+string(tag))
	}
	{
		err := service.InstallProductFor(ctx, "missing", indiegala.OsMac)
		require.ErrorIs(t, err, linkstore.ErrLinkNotFound)
	}
}

func TestCacheSurvivesRestart(t *testing.T) {
	front := &storefront{authenticated: true}
	cleanup := telemetry.SetupForTesting(t, "test:services/galaxy")
	defer cleanup()

	server := httptest.NewServer(front.handler())
	defer server.Close()

	cacheDir := t.TempDir()
	opts := Options{
		CacheDir:    cacheDir,
		BaseUrl:     server.URL,
		UserInfoUrl: server.URL + "/user_info",
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	{
		service, err := NewService(ctx, opts)
		if err != nil {
			t.Fatal(err)
		}
		_, _, err = service.GetOwnedProducts(ctx)
		require.NoError(t, err)

		err = service.Shutdown(ctx, false)
		require.NoError(t, err)
	}
	{
		// a fresh instance over the same cache dir knows the links
		// without scraping again
		service, err := NewService(ctx, opts)
		if err != nil {
			t.Fatal(err)
		}
		defer service.Shutdown(ctx, false)

		compat := service.GetOsCompatibility(ctx, "foo-game")
		require.Equal(t, indiegala.KnownOsTags, compat)
	}
}
