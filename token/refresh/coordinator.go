package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-cluster-gateway/internal/errors"
	"github.com/jrsteele09/go-cluster-gateway/metrics"
	"github.com/jrsteele09/go-cluster-gateway/sessions"
	"github.com/jrsteele09/go-cluster-gateway/tenants"
	"github.com/jrsteele09/go-cluster-gateway/token"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Path is the upstream endpoint that exchanges a refresh token for a new access token.
const Path = "/auth/signin/refresh"

const maxResponseBytes = 1 << 20

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Coordinator exchanges refresh tokens for access tokens. Concurrent refreshes
// of the same refresh token within a cluster are coalesced into one upstream
// call whose result every caller receives.
type Coordinator struct {
	client    *http.Client
	apiBase   string
	cookies   *sessions.CookieManager
	accessTTL time.Duration
	timeout   time.Duration
	store     Store
	storeTTL  time.Duration
	recorder  metrics.Recorder

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// flight tracks the callers waiting on one in-flight refresh. The upstream call
// runs on its own context so that one caller leaving does not fail the others;
// it is cancelled once every caller has left.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type Option func(*Coordinator)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) {
		c.client = client
	}
}

func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.accessTTL = ttl
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithStore shares results through store for ttl.
func WithStore(store Store, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.store = store
		c.storeTTL = ttl
	}
}

func WithRecorder(recorder metrics.Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = recorder
	}
}

// NewCoordinator creates a coordinator that calls apiBase + Path.
func NewCoordinator(apiBase string, cookies *sessions.CookieManager, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:    http.DefaultClient,
		apiBase:   apiBase,
		cookies:   cookies,
		accessTTL: sessions.DefaultAccessTokenTTL,
		timeout:   10 * time.Second,
		store:     NopStore{},
		recorder:  metrics.Nop{},
		flights:   make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccessTokenTTL is the lifetime given to access_token cookies.
func (c *Coordinator) AccessTokenTTL() time.Duration {
	return c.accessTTL
}

// RefreshSession refreshes the session carried by r. On success the new
// access_token cookie and the upstream's Set-Cookie headers are added to h and
// the new access token is returned.
//
// It fails with ErrNoRefreshToken when r has no refresh cookie and with
// ErrRefreshRejected when the upstream refuses the refresh token.
func (c *Coordinator) RefreshSession(r *http.Request, h http.Header) (string, error) {
	refreshToken, ok := c.cookies.RefreshToken(r)
	if !ok {
		return "", apperrors.ErrNoRefreshToken
	}
	result, err := c.Refresh(r.Context(), refreshToken, tenants.FromContext(r.Context()).Slug)
	if err != nil {
		return "", err
	}
	result.Apply(h, c.cookies, c.accessTTL)
	return result.AccessToken(), nil
}

// Refresh exchanges refreshToken for a new access token, joining any refresh of
// the same token already in flight. If ctx is done before the result arrives,
// Refresh returns ctx.Err() and the caller must not commit anything.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken, cluster string) (*Result, error) {
	if refreshToken == "" {
		return nil, apperrors.ErrNoRefreshToken
	}

	key := Key(refreshToken, cluster)
	f := c.join(ctx, key)

	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(f.ctx, key, refreshToken, cluster)
	})

	select {
	case <-ctx.Done():
		c.leave(key, f, true)
		c.recorder.RecordRefresh(metrics.RefreshCancelled)
		return nil, ctx.Err()
	case res := <-ch:
		c.leave(key, f, false)
		if res.Shared {
			c.recorder.RecordRefreshCoalesced()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	}
}

func (c *Coordinator) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *Coordinator) leave(key string, f *flight, abandoned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	if abandoned {
		// Late joiners must start a fresh call rather than share a cancelled one.
		c.group.Forget(key)
	}
	f.cancel()
}

// load runs once per coalesced refresh.
func (c *Coordinator) load(ctx context.Context, key, refreshToken, cluster string) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	if stored, err := c.store.Get(ctx, key); err != nil {
		logger.Warn().Err(err).Msg("refresh store lookup failed")
	} else if stored != nil && stored.AccessToken() != "" {
		logger.Debug().Str("cluster", cluster).Msg("refresh result reused from store")
		c.recorder.RecordRefresh(metrics.RefreshFromStore)
		return stored, nil
	}

	logger.Info().Str("cluster", cluster).Msg("refreshing access token")
	result, err := c.exchange(ctx, refreshToken, cluster)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrRefreshRejected) {
			c.recorder.RecordRefresh(metrics.RefreshRejected)
			logger.Warn().Err(err).Str("cluster", cluster).Msg("refresh rejected")
		} else {
			c.recorder.RecordRefresh(metrics.RefreshUnreachable)
			logger.Error().Err(err).Str("cluster", cluster).Msg("refresh failed")
		}
		return nil, err
	}
	c.recorder.RecordRefresh(metrics.RefreshSucceeded)

	if err := c.store.Put(ctx, key, result, c.storeTTL); err != nil {
		logger.Warn().Err(err).Msg("refresh store write failed")
	}
	return result, nil
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// exchange performs the single upstream call POST {apiBase}/auth/signin/refresh.
func (c *Coordinator) exchange(ctx context.Context, refreshToken, cluster string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+Path, nil)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[refresh exchange] build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: sessions.RefreshTokenCookie, Value: refreshToken})
	if cluster != "" {
		req.Header.Set(tenants.ClusterHeader, cluster)
		req.URL.RawQuery = url.Values{tenants.ClusterQueryParam: {cluster}}.Encode()
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.FromTransport("refresh request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.FromTransport("refresh response read failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: upstream status %d", apperrors.ErrRefreshRejected, resp.StatusCode)
	}

	var payload refreshResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid refresh response: %v", apperrors.ErrRefreshRejected, err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("%w: refresh response has no access token", apperrors.ErrRefreshRejected)
	}

	tok := token.Credential(payload.AccessToken)
	if tok.Expiry.IsZero() {
		ttl := c.accessTTL
		if payload.ExpiresIn > 0 {
			ttl = time.Duration(payload.ExpiresIn) * time.Second
		}
		tok.Expiry = NowTimeFunc().Add(ttl)
	}

	return &Result{
		Token:      tok,
		SetCookies: append([]string(nil), resp.Header.Values("Set-Cookie")...),
	}, nil
}
