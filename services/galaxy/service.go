// Package galaxy is the plugin facade: one object the host process
// drives through authentication, catalog refreshes, compatibility
// lookups and installs.
package galaxy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	configsqlite "galaclient-backend/lib/configutil/sqlite"
	"galaclient-backend/lib/kvstore"
	kvdb "galaclient-backend/lib/kvstore/db"
	"galaclient-backend/lib/linkstore"
	"galaclient-backend/lib/scrapers/indiegala"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/galaxy")

const cacheDbFile = "galaclient.db"

// UrlOpener hands an install URL to the surrounding desktop
// environment, usually the default browser.
type UrlOpener func(ctx context.Context, rawUrl string) error

type Options struct {
	// directory the durable cache database lives in
	CacheDir string
	// defaults to the production storefront
	BaseUrl string
	// defaults to the production user info endpoint
	UserInfoUrl string
	// receives every cookie set that becomes the session-of-record
	StoreCredentials indiegala.CredentialSink
	// required for InstallProduct
	OpenUrl UrlOpener
}

type Service struct {
	db      *sql.DB
	kv      *kvstore.Store
	links   *linkstore.Store
	session *indiegala.Session
	auth    *indiegala.Controller
	scraper *indiegala.ShowcaseScraper
	openUrl UrlOpener

	cacheDir    string
	compatCache *expirable.LRU[string, []indiegala.OsTag]
}

func NewService(ctx context.Context, opts Options) (*Service, error) {
	database, err := configsqlite.Struct{
		File: filepath.Join(opts.CacheDir, cacheDbFile),
	}.OpenDB(kvdb.Schema)
	if err != nil {
		return nil, err
	}

	kv := kvstore.NewStore(database)
	links := linkstore.NewStore(kv)
	err = links.Load(ctx)
	if err != nil {
		database.Close()
		return nil, err
	}

	session, err := indiegala.NewSession(indiegala.SessionOptions{
		BaseUrl: opts.BaseUrl,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	auth := indiegala.NewController(indiegala.ControllerOptions{
		Session:          session,
		UserInfoUrl:      opts.UserInfoUrl,
		StoreCredentials: opts.StoreCredentials,
	})
	scraper := indiegala.NewShowcaseScraper(indiegala.ShowcaseScraperOptions{
		Session: session,
		Links:   links,
	})

	return &Service{
		db:          database,
		kv:          kv,
		links:       links,
		session:     session,
		auth:        auth,
		scraper:     scraper,
		openUrl:     opts.OpenUrl,
		cacheDir:    opts.CacheDir,
		compatCache: expirable.NewLRU[string, []indiegala.OsTag](2048, nil, time.Minute*15),
	}, nil
}

// Authenticate resumes the stored session if there is one. An expired
// session is not an error at this boundary: the host just gets a fresh
// login step to drive.
func (s *Service) Authenticate(ctx context.Context, stored map[string]string) (*indiegala.Identity, *indiegala.BrowserStep, error) {
	ctx, span := tracer.Start(ctx, "galaxy:Authenticate")
	defer span.End()

	identity, step, err := s.auth.Authenticate(ctx, stored)
	return s.concludeAuth(ctx, identity, step, err)
}

// PassLoginCredentials reports the cookies the host's browser step
// gathered and moves the state machine forward.
func (s *Service) PassLoginCredentials(ctx context.Context, cookies map[string]string) (*indiegala.Identity, *indiegala.BrowserStep, error) {
	ctx, span := tracer.Start(ctx, "galaxy:PassLoginCredentials")
	defer span.End()

	identity, step, err := s.auth.CompleteBrowserStep(ctx, cookies)
	return s.concludeAuth(ctx, identity, step, err)
}

func (s *Service) concludeAuth(ctx context.Context, identity *indiegala.Identity, step *indiegala.BrowserStep, err error) (*indiegala.Identity, *indiegala.BrowserStep, error) {
	if errors.Is(err, indiegala.ErrNotAuthenticated) {
		return nil, s.auth.RestartLogin(), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if identity != nil {
		s.links.SetUsername(identity.Username)
	}
	return identity, step, nil
}

// GetOwnedProducts scrapes the owned catalog. When the scrape runs
// into a challenge mid-flight the last flushed catalog is returned
// alongside the security step the host should drive before retrying.
func (s *Service) GetOwnedProducts(ctx context.Context) ([]indiegala.CatalogEntry, *indiegala.BrowserStep, error) {
	ctx, span := tracer.Start(ctx, "galaxy:GetOwnedProducts")
	defer span.End()

	catalog, err := s.scraper.ScrapeOwnedCatalog(ctx)
	if errors.Is(err, indiegala.ErrChallengeDetected) {
		slog.WarnContext(ctx, "catalog scrape was challenged, serving the cached catalog", "err", err)
		step := s.auth.Demote(ctx)
		return s.links.Catalog(), step, nil
	}
	if err != nil {
		return nil, nil, err
	}

	s.compatCache.Purge()
	return catalog, nil, nil
}

// GetOsCompatibility reports the operating systems a product has known
// builds for. Lookups are memoized briefly since the host polls this
// per product on every library render.
func (s *Service) GetOsCompatibility(ctx context.Context, productId string) []indiegala.OsTag {
	_, span := tracer.Start(ctx, "galaxy:GetOsCompatibility")
	defer span.End()

	cached, ok := s.compatCache.Get(productId)
	if ok {
		return cached
	}

	compat := s.links.DeriveOsCompatibility(productId)
	s.compatCache.Add(productId, compat)
	return compat
}

// InstallProduct resolves the build URL for the product on the
// platform this process runs on and hands it to the opener.
func (s *Service) InstallProduct(ctx context.Context, productId string) error {
	osTag, ok := indiegala.CurrentOsTag()
	if !ok {
		return fmt.Errorf("the storefront publishes no builds for %s", runtime.GOOS)
	}
	return s.InstallProductFor(ctx, productId, osTag)
}

// InstallProductFor is InstallProduct with the OS chosen explicitly. A
// product with no cached link for that OS fails with
// linkstore.ErrLinkNotFound.
func (s *Service) InstallProductFor(ctx context.Context, productId string, osTag indiegala.OsTag) error {
	ctx, span := tracer.Start(ctx, "galaxy:InstallProduct")
	defer span.End()

	installUrl, err := s.links.ResolveInstallUrl(productId, osTag)
	if err != nil {
		return err
	}

	slog.DebugContext(ctx, "opening install url", "product", productId, "os", osTag)
	return s.openUrl(ctx, installUrl)
}

// LaunchProduct exists to satisfy the host surface. Builds are plain
// downloads with no managed install location, so there is nothing to
// launch.
func (s *Service) LaunchProduct(ctx context.Context, productId string) {
	slog.WarnContext(ctx, "launch is not supported for showcase builds", "product", productId)
}

// Shutdown flushes the durable state and tears the transport down.
// With purgeCache set the whole cache directory is removed afterwards,
// which the host requests on plugin uninstall.
func (s *Service) Shutdown(ctx context.Context, purgeCache bool) error {
	ctx, span := tracer.Start(ctx, "galaxy:Shutdown")
	defer span.End()

	flushErr := s.links.Flush(ctx)

	s.session.Close()
	err := s.db.Close()
	if err != nil {
		return err
	}

	if purgeCache {
		err := os.RemoveAll(s.cacheDir)
		if err != nil {
			return err
		}
	}
	return flushErr
}
