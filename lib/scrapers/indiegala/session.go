package indiegala

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"galaclient-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/indiegala")

const DefaultBaseUrl = "https://www.indiegala.com"

// challengeMarkers is the detection policy for the anti-bot layer:
// literal substrings that only ever appear when an interstitial was
// served in place of the real page. Evaluated in order against every
// response body.
var challengeMarkers = []struct {
	Marker string
	Reason string
}{
	{"_Incapsula_Resource", "interstitial resource challenge"},
	{"Profile locked", "ip check required"},
}

// Cookie is one name/value pair snapshotted from the session jar for
// handoff to an out-of-process browser step.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Session owns the one cookie-bearing transport every storefront
// request goes through. Scraping code never touches the jar directly.
type Session struct {
	BaseUrl *url.URL
	http    *resty.Client
	jar     http.CookieJar

	// every origin injected cookie sets are written for
	cookieHosts []*url.URL
}

type SessionOptions struct {
	BaseUrl string
}

func NewSession(opts SessionOptions) (*Session, error) {
	rawUrl := opts.BaseUrl
	if rawUrl == "" {
		rawUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(rawUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(rawUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "galaClient")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(
		baseUrl.Hostname(),
		"www.indiegala.com",
		"indiegala.com",
	))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/indiegala/http")

	s := &Session{
		BaseUrl:     baseUrl,
		http:        client,
		jar:         jar,
		cookieHosts: []*url.URL{baseUrl},
	}
	return s, nil
}

// ShareCookiesWith registers another origin that receives every cookie
// set passed through UpdateCookies. The storefront session rides on
// cookies its sibling API hosts need to see too, and the jar scopes
// cookies per host.
func (s *Session) ShareCookiesWith(rawUrl string) error {
	shared, err := url.Parse(rawUrl)
	if err != nil {
		return err
	}
	for _, existing := range s.cookieHosts {
		if existing.Hostname() == shared.Hostname() {
			return nil
		}
	}
	s.cookieHosts = append(s.cookieHosts, shared)
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Get fetches a page and returns its body, failing with
// ErrChallengeDetected when the anti-bot layer answered instead of the
// real content. A timed-out request is treated the same way: escalate
// to re-authentication rather than crash. The challenge body is never
// returned to the caller, though its Set-Cookie headers will already
// have passed through the jar at the transport layer.
func (s *Session) Get(ctx context.Context, pageUrl string) (string, error) {
	ctx, span := tracer.Start(ctx, "session:Get")
	defer span.End()

	res, err := s.http.R().
		SetContext(ctx).
		Get(pageUrl)
	if err != nil {
		if isTimeout(err) {
			slog.DebugContext(ctx, "request timed out, treating as challenge", "url", pageUrl)
			return "", fmt.Errorf("request timed out: %w", ErrChallengeDetected)
		}
		return "", err
	}

	body := res.String()
	for _, m := range challengeMarkers {
		if strings.Contains(body, m.Marker) {
			slog.DebugContext(ctx, "challenge detected", "url", pageUrl, "reason", m.Reason)
			return "", fmt.Errorf("%s: %w", m.Reason, ErrChallengeDetected)
		}
	}
	return body, nil
}

func (s *Session) Post(ctx context.Context, pageUrl string, form map[string]string) error {
	ctx, span := tracer.Start(ctx, "session:Post")
	defer span.End()

	_, err := s.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(pageUrl)
	return err
}

// UpdateCookies merges name/value pairs into the jar for the
// storefront and every shared origin. Same-named cookies are
// overwritten, everything else is left alone.
func (s *Session) UpdateCookies(cookies map[string]string) {
	set := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		if name == "" {
			continue
		}
		set = append(set, &http.Cookie{
			Name:  name,
			Value: value,
			Path:  "/",
		})
	}
	for _, host := range s.cookieHosts {
		s.jar.SetCookies(host, set)
	}
}

// ExportCookies snapshots the jar for handoff to a browser step. The
// order is the jar's own and is not stable across runs.
func (s *Session) ExportCookies() []Cookie {
	current := s.jar.Cookies(s.BaseUrl)
	out := make([]Cookie, 0, len(current))
	for _, c := range current {
		out = append(out, Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func (s *Session) Close() {
	s.http.GetClient().CloseIdleConnections()
}
