// Package linkstore is the durable memory of the scrape: download
// links, the owned-catalog snapshot and the last seen username, held
// in process and mirrored into a key/value store on flush.
package linkstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"galaclient-backend/lib/scrapers/indiegala"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("linkstore")

const (
	linksKey    = "download_links"
	catalogKey  = "owned_games"
	usernameKey = "username"
)

const (
	cdnPrefix      = "https://content.indiegalacdn.com/"
	cdnBuildPrefix = "https://content.indiegalacdn.com/DevShowcaseBuildsVolume/"
)

var ErrLinkNotFound = fmt.Errorf("no download link is cached for that product")

// KV is the persistence boundary. kvstore.Store satisfies it.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Push(ctx context.Context) error
}

// Store accumulates scrape output across the process lifetime and
// mirrors it through the KV on Flush. Merges are additive; a link,
// once learned, survives until the backing store is wiped. Not safe
// for concurrent use.
type Store struct {
	kv KV

	links    map[string]map[indiegala.OsTag]string
	catalog  []indiegala.CatalogEntry
	username string
}

func NewStore(kv KV) *Store {
	return &Store{
		kv:    kv,
		links: map[string]map[indiegala.OsTag]string{},
	}
}

// Load rehydrates the in-memory state from the KV. Corrupt or missing
// payloads degrade to an empty store rather than failing, since the
// cache is always rebuildable by a fresh scrape.
func (s *Store) Load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "linkstore:Load")
	defer span.End()

	raw, ok, err := s.kv.Get(ctx, linksKey)
	if err != nil {
		return err
	}
	if ok {
		var links map[string]map[indiegala.OsTag]string
		err := json.Unmarshal([]byte(raw), &links)
		if err != nil {
			slog.WarnContext(ctx, "cached download links are corrupt, starting empty", "err", err)
		} else {
			s.links = links
		}
	}
	if s.links == nil {
		s.links = map[string]map[indiegala.OsTag]string{}
	}

	raw, ok, err = s.kv.Get(ctx, catalogKey)
	if err != nil {
		return err
	}
	if ok {
		var catalog []indiegala.CatalogEntry
		err := json.Unmarshal([]byte(raw), &catalog)
		if err != nil {
			slog.WarnContext(ctx, "cached catalog snapshot is corrupt, starting empty", "err", err)
		} else {
			s.catalog = catalog
		}
	}

	username, ok, err := s.kv.Get(ctx, usernameKey)
	if err != nil {
		return err
	}
	if ok {
		s.username = username
	}

	return nil
}

// Put merges one link. An existing URL for the same product and OS is
// overwritten, everything else stays.
func (s *Store) Put(productId string, osTag indiegala.OsTag, downloadUrl string) {
	byOs := s.links[productId]
	if byOs == nil {
		byOs = map[indiegala.OsTag]string{}
		s.links[productId] = byOs
	}
	byOs[osTag] = downloadUrl
}

func (s *Store) PutCatalog(entries []indiegala.CatalogEntry) {
	s.catalog = entries
}

func (s *Store) Catalog() []indiegala.CatalogEntry {
	return s.catalog
}

func (s *Store) SetUsername(name string) {
	s.username = name
}

func (s *Store) Username() string {
	return s.username
}

// Flush serializes everything into the KV and pushes it in one go.
func (s *Store) Flush(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "linkstore:Flush")
	defer span.End()

	links, err := json.Marshal(s.links)
	if err != nil {
		return err
	}
	err = s.kv.Set(ctx, linksKey, string(links))
	if err != nil {
		return err
	}

	catalog, err := json.Marshal(s.catalog)
	if err != nil {
		return err
	}
	err = s.kv.Set(ctx, catalogKey, string(catalog))
	if err != nil {
		return err
	}

	if s.username != "" {
		err = s.kv.Set(ctx, usernameKey, s.username)
		if err != nil {
			return err
		}
	}

	return s.kv.Push(ctx)
}

// DeriveOsCompatibility reports which OS builds are known for a
// product, in the storefront's tag order. An unknown product yields an
// empty set, not an error.
func (s *Store) DeriveOsCompatibility(productId string) []indiegala.OsTag {
	byOs := s.links[productId]
	compat := []indiegala.OsTag{}
	for _, tag := range indiegala.KnownOsTags {
		_, ok := byOs[tag]
		if ok {
			compat = append(compat, tag)
		}
	}
	return compat
}

// ResolveInstallUrl returns the build download URL for a product on
// one OS, rewritten onto the CDN's builds volume.
func (s *Store) ResolveInstallUrl(productId string, osTag indiegala.OsTag) (string, error) {
	byOs := s.links[productId]
	downloadUrl, ok := byOs[osTag]
	if !ok {
		return "", fmt.Errorf("%s on %s: %w", productId, osTag, ErrLinkNotFound)
	}
	return strings.Replace(downloadUrl, cdnPrefix, cdnBuildPrefix, 1), nil
}
