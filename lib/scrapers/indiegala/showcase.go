package indiegala

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"

	"galaclient-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const showcaseUrlFormat = "/library/showcase/%d"

// the showcase renders this container instead of product rows both for
// a genuinely empty library and past the last page of a non-empty one
const emptyLibraryMarker = "profile-private-page-library-empty"

const DefaultMaxShowcasePages = 500

var downloadHrefRegex = regexp.MustCompile(`location\.href\s*=\s*'([^']+)'`)

// DownloadLink is one OS-specific build URL harvested from a showcase
// page. ProductId comes from the URL's filename and is expected, but
// not guaranteed, to match an id seen via a title anchor.
type DownloadLink struct {
	ProductId string
	Os        OsTag
	Url       string
}

// LinkSink receives everything the scrape harvests. Put merges a
// single download link, PutCatalog replaces the owned-catalog
// snapshot, Flush persists both.
type LinkSink interface {
	Put(productId string, osTag OsTag, downloadUrl string)
	PutCatalog(entries []CatalogEntry)
	Flush(ctx context.Context) error
}

// ShowcaseScraper pages through the owned-products listing and turns
// it into catalog entries while incrementally harvesting download
// links into the sink.
type ShowcaseScraper struct {
	session  *Session
	links    LinkSink
	maxPages int
}

type ShowcaseScraperOptions struct {
	Session *Session
	Links   LinkSink
	// defaults to DefaultMaxShowcasePages
	MaxPages int
}

func NewShowcaseScraper(opts ShowcaseScraperOptions) *ShowcaseScraper {
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxShowcasePages
	}
	return &ShowcaseScraper{
		session:  opts.Session,
		links:    opts.Links,
		maxPages: maxPages,
	}
}

type showcasePage struct {
	Entries []CatalogEntry
	Links   []DownloadLink
	Empty   bool
}

// ScrapeOwnedCatalog re-pages the showcase from page 1. It is not
// resumable mid-stream; a failed scrape restarts from the beginning on
// the next call and relies on the link sink's accumulated entries to
// make that cheap. A challenge from any page propagates so the caller
// can re-authenticate.
func (s *ShowcaseScraper) ScrapeOwnedCatalog(ctx context.Context) ([]CatalogEntry, error) {
	ctx, span := tracer.Start(ctx, "showcase:ScrapeOwnedCatalog")
	defer span.End()

	var catalog []CatalogEntry
	seen := map[string]bool{}
	var linkIds []string

	for n := 1; n <= s.maxPages; n++ {
		body, err := s.session.Get(ctx, fmt.Sprintf(showcaseUrlFormat, n))
		if err != nil {
			return nil, err
		}

		page, err := parseShowcasePage(ctx, body)
		if err != nil {
			slog.WarnContext(ctx, "showcase page failed to parse, stopping with partial results", "page", n, "err", err)
			break
		}

		for _, entry := range page.Entries {
			if seen[entry.ProductId] {
				continue
			}
			seen[entry.ProductId] = true
			catalog = append(catalog, entry)
		}
		for _, link := range page.Links {
			s.links.Put(link.ProductId, link.Os, link.Url)
			linkIds = append(linkIds, link.ProductId)
		}

		span.AddEvent("page", trace.WithAttributes(
			attribute.Int("number", n),
			attribute.Int("products", len(page.Entries)),
			attribute.Int("links", len(page.Links)),
			attribute.Bool("empty", page.Empty),
		))

		if page.Empty {
			break
		}
		if len(page.Entries) == 0 && len(page.Links) == 0 {
			// neither products nor the empty-state container: format
			// drift, terminate with whatever was gathered so far
			slog.WarnContext(ctx, "showcase page had no products and no empty marker", "page", n)
			break
		}
	}

	logOrphanLinks(ctx, catalog, linkIds)

	s.links.PutCatalog(catalog)
	err := s.links.Flush(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to flush link cache after scrape", "err", err)
	}

	return catalog, nil
}

// logOrphanLinks reports download-link ids that never matched a title
// anchor along with their closest anchor id, which makes slug drift in
// the storefront markup diagnosable. Keys are never rewritten.
func logOrphanLinks(ctx context.Context, catalog []CatalogEntry, linkIds []string) {
	if len(catalog) == 0 || len(linkIds) == 0 {
		return
	}

	known := map[string]bool{}
	for _, entry := range catalog {
		known[entry.ProductId] = true
	}

	for _, id := range linkIds {
		if known[id] {
			continue
		}

		closest := ""
		best := 0.0
		for _, entry := range catalog {
			similarity := matchr.JaroWinkler(id, entry.ProductId, false)
			if similarity > best {
				best = similarity
				closest = entry.ProductId
			}
		}
		slog.DebugContext(
			ctx, "download link id has no catalog anchor",
			"link_id", id,
			"closest_anchor_id", closest,
		)
	}
}

func parseShowcasePage(ctx context.Context, body string) (showcasePage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return showcasePage{}, fmt.Errorf("showcase page: %w", ErrParse)
	}

	page := showcasePage{
		Empty: strings.Contains(body, emptyLibraryMarker),
	}

	for _, anchor := range htmlutil.GetAnchors(ctx, doc.Find("a.library-showcase-title")) {
		id := productIdFromHref(anchor.Href)
		if id == "" {
			slog.WarnContext(ctx, "product anchor without a usable href", "title", anchor.Name)
			continue
		}
		page.Entries = append(page.Entries, CatalogEntry{
			ProductId: id,
			Title:     anchor.Name,
			License:   LicenseSinglePurchase,
			DlcIds:    nil,
		})
	}

	doc.Find(".library-showcase-download-btn[onclick]").Each(func(_ int, sel *goquery.Selection) {
		onclick := sel.AttrOr("onclick", "")
		link, ok := parseDownloadControl(onclick)
		if !ok {
			slog.WarnContext(ctx, "download control without a parsable payload", "onclick", onclick)
			return
		}
		page.Links = append(page.Links, link)
	})

	return page, nil
}

func productIdFromHref(href string) string {
	link, err := url.Parse(href)
	if err != nil {
		return ""
	}
	trimmed := strings.TrimRight(link.Path, "/")
	segment := path.Base(trimmed)
	if segment == "." || segment == "/" {
		return ""
	}
	return segment
}

// parseDownloadControl extracts the build URL from a download button's
// inline action payload. The URL's filename encodes
// {product_id}_{os_tag} before its extension.
func parseDownloadControl(onclick string) (DownloadLink, bool) {
	groups := downloadHrefRegex.FindStringSubmatch(onclick)
	if len(groups) < 2 {
		return DownloadLink{}, false
	}
	rawUrl := groups[1]

	link, err := url.Parse(rawUrl)
	if err != nil {
		return DownloadLink{}, false
	}

	filename := path.Base(link.Path)
	filename = strings.TrimSuffix(filename, path.Ext(filename))
	split := strings.LastIndex(filename, "_")
	if split <= 0 || split == len(filename)-1 {
		return DownloadLink{}, false
	}

	osTag := OsTag(filename[split+1:])
	if !IsKnownOsTag(osTag) {
		return DownloadLink{}, false
	}

	return DownloadLink{
		ProductId: filename[:split],
		Os:        osTag,
		Url:       rawUrl,
	}, true
}
