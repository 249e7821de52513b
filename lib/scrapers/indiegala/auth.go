package indiegala

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
)

const (
	loginStartUrl    = DefaultBaseUrl + "/login"
	securityStartUrl = DefaultBaseUrl + "/library"
	endUrlPattern    = `^https://www\.indiegala\.com/?(#.*)?$`

	DefaultUserInfoUrl = "https://2-dot-main-service-dot-indiegala-prod.appspot.com/login_new/user_info"

	DefaultMaxSecurityRetries = 3
)

// redirects the embedded browser back to the homepage once the library
// loads normally, which matches endUrlPattern and ends the step
var securityScriptRules = map[string][]string{
	`^https://www\.indiegala\.com/.*`: {
		`
        if (document.getElementsByTagName('title')[0].text.includes("Library | Indiegala")) {
            window.location.href = "/";
        }
    `,
	},
}

// BrowserStep instructs the host to drive an interactive, human-driven
// browser session and report the resulting cookies back through
// CompleteBrowserStep.
type BrowserStep struct {
	Kind                string              `json:"kind"`
	Title               string              `json:"title"`
	Width               int                 `json:"width"`
	Height              int                 `json:"height"`
	StartUrl            string              `json:"start_url"`
	EndUrlPattern       string              `json:"end_url_pattern"`
	Cookies             []Cookie            `json:"cookies,omitempty"`
	InjectedScriptRules map[string][]string `json:"injected_script_rules,omitempty"`
}

type State int

const (
	StateUnauthenticated State = iota
	StateAwaitingBrowserLogin
	StateAwaitingSecurityChallenge
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingBrowserLogin:
		return "awaiting_browser_login"
	case StateAwaitingSecurityChallenge:
		return "awaiting_security_challenge"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// CredentialSink receives every cookie set that becomes the
// session-of-record, so the host can rehydrate it on next launch.
type CredentialSink func(ctx context.Context, cookies map[string]string) error

// Controller drives the login state machine on top of a Session.
// It is not safe for concurrent use; the whole plugin instance assumes
// one logical flow of control.
type Controller struct {
	session          *Session
	userInfoUrl      string
	storeCredentials CredentialSink

	state              State
	identity           *Identity
	securityRetries    int
	maxSecurityRetries int
}

type ControllerOptions struct {
	Session *Session
	// defaults to DefaultUserInfoUrl
	UserInfoUrl string
	// may be nil, in which case new cookie sets are not persisted
	StoreCredentials CredentialSink
	// defaults to DefaultMaxSecurityRetries
	MaxSecurityRetries int
}

func NewController(opts ControllerOptions) *Controller {
	userInfoUrl := opts.UserInfoUrl
	if userInfoUrl == "" {
		userInfoUrl = DefaultUserInfoUrl
	}
	maxRetries := opts.MaxSecurityRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxSecurityRetries
	}

	// the user info endpoint lives on a separate host but expects the
	// storefront's session cookies
	err := opts.Session.ShareCookiesWith(userInfoUrl)
	if err != nil {
		slog.Warn("user info url is not usable as a cookie origin", "url", userInfoUrl, "err", err)
	}

	return &Controller{
		session:            opts.Session,
		userInfoUrl:        userInfoUrl,
		storeCredentials:   opts.StoreCredentials,
		state:              StateUnauthenticated,
		maxSecurityRetries: maxRetries,
	}
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) LoginStep() *BrowserStep {
	return &BrowserStep{
		Kind:          "web_session",
		Title:         "Login to Indiegala",
		Width:         1000,
		Height:        800,
		StartUrl:      loginStartUrl,
		EndUrlPattern: endUrlPattern,
	}
}

func (c *Controller) SecurityStep() *BrowserStep {
	return &BrowserStep{
		Kind:                "web_session",
		Title:               "Indiegala Security Check",
		Width:               1000,
		Height:              800,
		StartUrl:            securityStartUrl,
		EndUrlPattern:       endUrlPattern,
		Cookies:             c.session.ExportCookies(),
		InjectedScriptRules: securityScriptRules,
	}
}

// Authenticate enters the state machine with whatever the host has
// stored. Without stored cookies it transitions to the browser-login
// state and performs no network call. With stored cookies it loads
// them and attempts to resolve the identity.
func (c *Controller) Authenticate(ctx context.Context, stored map[string]string) (*Identity, *BrowserStep, error) {
	ctx, span := tracer.Start(ctx, "auth:Authenticate")
	defer span.End()

	if len(stored) == 0 {
		return nil, c.RestartLogin(), nil
	}

	c.session.UpdateCookies(stored)
	return c.resolve(ctx)
}

// CompleteBrowserStep merges the cookies an out-of-process browser
// accumulated, persists them as the new session-of-record and retries
// identity resolution. A repeated challenge re-emits the security step
// until the retry budget runs out, after which the attempt is
// abandoned outright.
func (c *Controller) CompleteBrowserStep(ctx context.Context, cookies map[string]string) (*Identity, *BrowserStep, error) {
	ctx, span := tracer.Start(ctx, "auth:CompleteBrowserStep")
	defer span.End()

	c.session.UpdateCookies(cookies)
	if c.storeCredentials != nil {
		err := c.storeCredentials(ctx, cookies)
		if err != nil {
			slog.WarnContext(ctx, "failed to store session cookies", "err", err)
		}
	}

	return c.resolve(ctx)
}

func (c *Controller) resolve(ctx context.Context) (*Identity, *BrowserStep, error) {
	identity, err := c.resolveIdentity(ctx)
	if errors.Is(err, ErrChallengeDetected) {
		if c.state == StateAwaitingSecurityChallenge {
			c.securityRetries++
			if c.securityRetries >= c.maxSecurityRetries {
				c.state = StateUnauthenticated
				c.securityRetries = 0
				return nil, nil, ErrAuthenticationAbandoned
			}
		}
		c.demote(ctx)
		return nil, c.SecurityStep(), nil
	}
	if err != nil {
		return nil, nil, err
	}
	return identity, nil, nil
}

// resolveIdentity issues one GET against the authenticated-only user
// info endpoint. The cached identity short-circuits the network round
// trip while the session stays authenticated.
func (c *Controller) resolveIdentity(ctx context.Context) (*Identity, error) {
	ctx, span := tracer.Start(ctx, "auth:resolveIdentity")
	defer span.End()

	if c.state == StateAuthenticated && c.identity != nil {
		return c.identity, nil
	}

	body, err := c.session.Get(ctx, c.userInfoUrl)
	if err != nil {
		return nil, err
	}

	var info struct {
		UserFound json.RawMessage `json:"user_found"`
		Username  string          `json:"_indiegala_username"`
	}
	err = json.Unmarshal([]byte(body), &info)
	if err != nil {
		span.SetStatus(codes.Error, "failed to unmarshal user info")
		return nil, fmt.Errorf("user info: %w", ErrParse)
	}

	found := string(info.UserFound)
	if found == `"false"` || found == "false" {
		c.state = StateUnauthenticated
		c.identity = nil
		return nil, ErrNotAuthenticated
	}
	if info.Username == "" {
		span.SetStatus(codes.Error, "user info is missing a username")
		return nil, fmt.Errorf("user info: %w", ErrParse)
	}

	c.state = StateAuthenticated
	c.securityRetries = 0
	c.identity = &Identity{Username: info.Username}
	return c.identity, nil
}

// RestartLogin abandons whatever session was loaded and hands out a
// fresh browser login, leaving the machine awaiting that login so
// State() matches the step in flight.
func (c *Controller) RestartLogin() *BrowserStep {
	c.state = StateAwaitingBrowserLogin
	c.identity = nil
	return c.LoginStep()
}

// Demote drops the controller back to the security-challenge state
// after a challenge was observed elsewhere (the catalog scrape, most
// commonly) and returns the step the host should drive next.
func (c *Controller) Demote(ctx context.Context) *BrowserStep {
	c.demote(ctx)
	return c.SecurityStep()
}

func (c *Controller) demote(ctx context.Context) {
	if c.state == StateAuthenticated {
		slog.DebugContext(ctx, "session demoted by challenge", "previous_state", c.state.String())
	}
	c.state = StateAwaitingSecurityChallenge
	c.identity = nil
}
