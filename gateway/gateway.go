// Package gateway forwards browser requests to the upstream API. It injects the
// session's bearer token and the tenant, transcodes payload keys and, when the
// upstream rejects the token, refreshes the session and retries exactly once.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-cluster-gateway/internal/errors"
	"github.com/jrsteele09/go-cluster-gateway/metrics"
	"github.com/jrsteele09/go-cluster-gateway/sessions"
	"github.com/jrsteele09/go-cluster-gateway/token"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout          = 15 * time.Second
	defaultMaxBodyBytes     = 10 << 20
	defaultMaxResponseBytes = 32 << 20
)

// Refresher refreshes the session carried by a request, adding the resulting
// Set-Cookie headers to h and returning the new access token.
type Refresher interface {
	RefreshSession(r *http.Request, h http.Header) (string, error)
}

// Gateway is the forwarding gateway. It keeps no per-session state; everything
// it needs is read from the inbound request.
type Gateway struct {
	client                    *http.Client
	apiBase                   *url.URL
	routes                    Routes
	cookies                   *sessions.CookieManager
	refresher                 Refresher
	accessTTL                 time.Duration
	timeout                   time.Duration
	maxBodyBytes              int64
	maxResponseBytes          int64
	refreshWithoutAccessToken bool
	recorder                  metrics.Recorder
}

type Option func(*Gateway)

func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

func WithRoutes(routes Routes) Option {
	return func(g *Gateway) {
		g.routes = routes
	}
}

// WithTimeout bounds each upstream attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = timeout
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(g *Gateway) {
		g.maxBodyBytes = n
	}
}

func WithMaxResponseBytes(n int64) Option {
	return func(g *Gateway) {
		g.maxResponseBytes = n
	}
}

func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.accessTTL = ttl
	}
}

// WithRefreshWithoutAccessToken lets requires-auth routes that only carry a
// refresh cookie refresh first instead of failing with 401.
func WithRefreshWithoutAccessToken(enabled bool) Option {
	return func(g *Gateway) {
		g.refreshWithoutAccessToken = enabled
	}
}

func WithRecorder(recorder metrics.Recorder) Option {
	return func(g *Gateway) {
		g.recorder = recorder
	}
}

// New creates a gateway forwarding to apiBase.
func New(apiBase string, cookies *sessions.CookieManager, refresher Refresher, opts ...Option) (*Gateway, error) {
	base, err := url.Parse(strings.TrimRight(apiBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("[gateway New] invalid api base %q: %w", apiBase, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("[gateway New] api base %q must be an absolute URL", apiBase)
	}

	g := &Gateway{
		client:           http.DefaultClient,
		apiBase:          base,
		routes:           DefaultRoutes,
		cookies:          cookies,
		refresher:        refresher,
		accessTTL:        sessions.DefaultAccessTokenTTL,
		timeout:          defaultTimeout,
		maxBodyBytes:     defaultMaxBodyBytes,
		maxResponseBytes: defaultMaxResponseBytes,
		recorder:         metrics.Nop{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Routes returns the route table the gateway serves.
func (g *Gateway) Routes() Routes {
	return g.routes
}

// Handle forwards r to {apiBase}/{module}/{rest} and writes the outcome.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request, module, rest string) {
	g.Forward(r, module, rest).Write(w, r)
}

// Forward runs the full forwarding exchange for r and returns the buffered
// client-facing response. Gateway failures are returned as error responses.
func (g *Gateway) Forward(r *http.Request, module, rest string) *Response {
	class, ok := g.routes.Lookup(module)
	if !ok {
		return g.fail(r, module, apperrors.New(apperrors.KindRouteNotFound, "no such route", nil), nil)
	}
	c, err := g.newCall(r, module, rest, class)
	if err != nil {
		return g.fail(r, module, err, nil)
	}
	return g.exchange(r, c)
}

// exchange drives the state machine for one prepared call.
func (g *Gateway) exchange(r *http.Request, c *call) *Response {
	x := &forwarding{g: g, r: r, c: c, session: g.cookies.Read(r), pending: make(http.Header)}
	resp, err := x.run()
	if err != nil {
		return g.fail(r, c.module, err, x.pending)
	}
	resp.addSetCookies(x.pending)
	return resp
}

// fail turns err into an error response. Cookies from a refresh that did
// succeed are still delivered.
func (g *Gateway) fail(r *http.Request, module string, err error, pending http.Header) *Response {
	resp := errorResponse(err)
	if r.Context().Err() == nil {
		ge := apperrors.AsGatewayError(err)
		g.recorder.RecordForwardError(module, string(ge.Kind))
		event := zerolog.Ctx(r.Context()).Warn()
		if ge.Status >= http.StatusInternalServerError {
			event = zerolog.Ctx(r.Context()).Error()
		}
		event.Err(err).Str("module", module).Int("status", ge.Status).Msg("request failed")
	}
	if pending != nil {
		resp.addSetCookies(pending)
	}
	return resp
}

// forwarding is the state of one request travelling through the machine.
type forwarding struct {
	g       *Gateway
	r       *http.Request
	c       *call
	session sessions.Session
	// pending collects Set-Cookie headers from a refresh until the response is built.
	pending     http.Header
	accessToken string
	m           *machine
}

func (x *forwarding) run() (*Response, error) {
	ctx := x.r.Context()
	logger := zerolog.Ctx(ctx)

	start := StateNoAuth
	if x.session.AccessToken != "" {
		start = StateAuthorized
		x.accessToken = x.session.AccessToken
	}
	x.m = newMachine(start)

	var resp *Response
	for !x.m.done() {
		var (
			next State
			err  error
		)
		switch x.m.state {
		case StateNoAuth:
			resp, next, err = x.noAuth(ctx)
		case StateAuthorized:
			resp, next, err = x.authorized(ctx)
		case StateRefreshing:
			next, err = x.refreshing(ctx)
		case StateRetried:
			resp, err = x.g.attempt(ctx, x.r, x.c, x.accessToken, 2)
			next = StateDone
		}
		if err != nil {
			logger.Debug().Stringer("state", x.m.state).Err(err).Msg("forwarding stopped")
			return nil, err
		}
		if err := x.m.to(next); err != nil {
			return nil, apperrors.New(apperrors.KindInternal, "internal error", err)
		}
	}
	return resp, nil
}

func (x *forwarding) noAuth(ctx context.Context) (*Response, State, error) {
	if x.c.class == RequiresAuth {
		if !x.session.CanAuthenticate() {
			return nil, StateDone, apperrors.New(apperrors.KindNoCredentials, "no credentials", nil)
		}
		if x.g.refreshWithoutAccessToken && x.session.CanRefresh() && !x.c.noRefresh {
			return nil, StateRefreshing, nil
		}
		return nil, StateDone, apperrors.New(apperrors.KindUnauthorized, "access token required", nil)
	}

	resp, err := x.g.attempt(ctx, x.r, x.c, "", 1)
	if err != nil {
		return nil, StateDone, err
	}
	if resp.Status == http.StatusUnauthorized && x.session.CanRefresh() && !x.c.noRefresh {
		return nil, StateRefreshing, nil
	}
	return resp, StateDone, nil
}

func (x *forwarding) authorized(ctx context.Context) (*Response, State, error) {
	if !x.c.noRefresh && x.session.CanRefresh() && token.IsExpired(x.accessToken) {
		zerolog.Ctx(ctx).Debug().Msg("access token already expired, refreshing first")
		return nil, StateRefreshing, nil
	}

	resp, err := x.g.attempt(ctx, x.r, x.c, x.accessToken, 1)
	if err != nil {
		return nil, StateDone, err
	}
	if resp.Status != http.StatusUnauthorized || x.c.noRefresh {
		return resp, StateDone, nil
	}
	// An auth-optional route without a refresh token has nothing to recover
	// with; its 401 is relayed like any other upstream reply.
	if x.c.class == AuthOptional && !x.session.CanRefresh() {
		return resp, StateDone, nil
	}
	return nil, StateRefreshing, nil
}

func (x *forwarding) refreshing(ctx context.Context) (State, error) {
	accessToken, err := x.g.refresher.RefreshSession(x.r, x.pending)
	if err != nil {
		return StateDone, refreshFailure(ctx, err)
	}
	x.accessToken = accessToken
	return StateRetried, nil
}

// refreshFailure maps a failed refresh onto what the client sees. A rejected
// or missing refresh token ends the session; transport failures keep their
// 502/504 kind so they are not mistaken for a logout.
func refreshFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ge *apperrors.GatewayError
	if apperrors.As(err, &ge) && (ge.Kind == apperrors.KindUpstreamUnreachable || ge.Kind == apperrors.KindUpstreamTimeout) {
		return ge
	}
	return apperrors.New(apperrors.KindSessionExpired, "session expired", err)
}
