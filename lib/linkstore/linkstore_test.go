package linkstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"galaclient-backend/lib/kvstore"
	"galaclient-backend/lib/kvstore/db"
	"galaclient-backend/lib/scrapers/indiegala"
	"galaclient-backend/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setup(t testing.TB) (*Store, *kvstore.Store, func()) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/linkstore")

	sqlite, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	_, err = sqlite.Exec(db.Schema)
	if err != nil {
		t.Fatal(err)
	}

	kv := kvstore.NewStore(sqlite)
	return NewStore(kv), kv, cleanup
}

func TestMergeAndRoundTrip(t *testing.T) {
	store, kv, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	catalog := []indiegala.CatalogEntry{
		{ProductId: "foo-game", Title: "Foo Game", License: indiegala.LicenseSinglePurchase},
		{ProductId: "bar-game", Title: "Bar Game", License: indiegala.LicenseSinglePurchase},
	}

	{
		store.Put("foo-game", indiegala.OsWindows, "https://content.indiegalacdn.com/foo/foo-game_win.zip")
		store.Put("foo-game", indiegala.OsLinux, "https://content.indiegalacdn.com/foo/foo-game_lin.zip")
		store.PutCatalog(catalog)
		store.SetUsername("someone")

		err := store.Flush(ctx)
		if err != nil {
			t.Fatal(err)
		}
	}
	{
		// a fresh store over the same KV sees everything back
		reloaded := NewStore(kv)
		err := reloaded.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}

		diff := cmp.Diff(catalog, reloaded.Catalog())
		require.Empty(t, diff)
		require.Equal(t, "someone", reloaded.Username())
		require.Equal(
			t,
			[]indiegala.OsTag{indiegala.OsWindows, indiegala.OsLinux},
			reloaded.DeriveOsCompatibility("foo-game"),
		)
	}
	{
		// merging one new link leaves the rest untouched
		store.Put("foo-game", indiegala.OsMac, "https://content.indiegalacdn.com/foo/foo-game_mac.zip")
		require.Equal(
			t,
			[]indiegala.OsTag{indiegala.OsWindows, indiegala.OsLinux, indiegala.OsMac},
			store.DeriveOsCompatibility("foo-game"),
		)
	}
	{
		// overwriting one OS keeps the other entries
		store.Put("foo-game", indiegala.OsWindows, "https://content.indiegalacdn.com/foo/v2/foo-game_win.zip")
		installUrl, err := store.ResolveInstallUrl("foo-game", indiegala.OsWindows)
		if err != nil {
			t.Fatal(err)
		}
		require.Contains(t, installUrl, "v2")
		require.Len(t, store.DeriveOsCompatibility("foo-game"), 3)
	}
}

func TestCorruptCacheDegradesToEmpty(t *testing.T) {
	store, kv, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	err := kv.Set(ctx, "download_links", "{not json")
	if err != nil {
		t.Fatal(err)
	}
	err = kv.Set(ctx, "owned_games", "[broken")
	if err != nil {
		t.Fatal(err)
	}
	err = kv.Push(ctx)
	if err != nil {
		t.Fatal(err)
	}

	err = store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, store.Catalog())
	require.Empty(t, store.DeriveOsCompatibility("foo-game"))
}

func TestCompatibilityOfUnknownProduct(t *testing.T) {
	store, _, cleanup := setup(t)
	defer cleanup()

	compat := store.DeriveOsCompatibility("never-seen")
	require.NotNil(t, compat)
	require.Empty(t, compat)
}

func TestResolveInstallUrl(t *testing.T) {
	store, _, cleanup := setup(t)
	defer cleanup()

	store.Put("foo-game", indiegala.OsWindows, "https://content.indiegalacdn.com/abc123/foo-game_win.zip")

	{
		installUrl, err := store.ResolveInstallUrl("foo-game", indiegala.OsWindows)
		if err != nil {
			t.Fatal(err)
		}
		require.Equal(
			t,
			"https://content.indiegalacdn.com/DevShowcaseBuildsVolume/abc123/foo-game_win.zip",
			installUrl,
		)
	}
	{
		_, err := store.ResolveInstallUrl("foo-game", indiegala.OsMac)
		require.ErrorIs(t, err, ErrLinkNotFound)
	}
	{
		_, err := store.ResolveInstallUrl("missing", indiegala.OsWindows)
		require.ErrorIs(t, err, ErrLinkNotFound)
	}
}
