package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatelift/gatelift/pkg/config"
	"github.com/gatelift/gatelift/pkg/metrics"
	"github.com/gatelift/gatelift/pkg/models"
	"github.com/gatelift/gatelift/pkg/solver"
	"github.com/gatelift/gatelift/pkg/tokencache"
)

const (
	testRandomData = "deadbeefcafe"
	testDifficulty = 4
	testCookieName = "within.website-x-cmd-anubis-auth"
	testToken      = "sess-token-123"
)

// gatedOrigin is a fake origin that serves a challenge page to clients
// without a valid session cookie and verifies submitted proofs.
type gatedOrigin struct {
	srv *httptest.Server

	algorithm  string
	difficulty int

	challengesServed atomic.Int64
	redemptions      atomic.Int64
	contentServed    atomic.Int64

	// UnixNano timestamps of the last challenge page served and the
	// last redemption attempt.
	challengeAt atomic.Int64
	redeemAt    atomic.Int64

	rejectProofs bool
}

func newGatedOrigin(t *testing.T) *gatedOrigin {
	t.Helper()
	o := &gatedOrigin{algorithm: "fast", difficulty: testDifficulty}
	o.srv = httptest.NewServer(http.HandlerFunc(o.handler))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *gatedOrigin) host() string {
	return strings.TrimPrefix(o.srv.URL, "http://")
}

func (o *gatedOrigin) handler(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.URL.Path, "pass-challenge") {
		o.redemptions.Add(1)
		o.redeemAt.Store(time.Now().UnixNano())
		if o.rejectProofs || !o.validProof(r.URL.Query()) {
			http.Error(w, "begone", http.StatusForbidden)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: testCookieName, Value: testToken, MaxAge: 3600})
		w.Header().Set("Location", r.URL.Query().Get("redir"))
		w.WriteHeader(http.StatusFound)
		return
	}

	if c, err := r.Cookie(testCookieName); err == nil && c.Value == testToken {
		o.contentServed.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "origin content")
		return
	}

	o.challengesServed.Add(1)
	o.challengeAt.Store(time.Now().UnixNano())
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<html><head>
<script id="anubis_challenge" type="application/json">{"challenge":{"id":"cid-1","randomData":%q},"rules":{"difficulty":%d,"algorithm":%q}}</script>
<script id="anubis_version" type="application/json">"1.21.3"</script>
</head><body>Checking your browser...</body></html>`, testRandomData, o.difficulty, o.algorithm)
}

func (o *gatedOrigin) validProof(q url.Values) bool {
	if q.Get("redir") == "" || q.Get("elapsedTime") == "" {
		return false
	}
	switch o.algorithm {
	case "preact":
		sum := sha256.Sum256([]byte(testRandomData))
		return q.Get("result") == hex.EncodeToString(sum[:])
	case "metarefresh":
		return q.Get("challenge") == testRandomData
	default:
		response := q.Get("response")
		nonce := q.Get("nonce")
		if response == "" || nonce == "" {
			return false
		}
		sum := sha256.Sum256([]byte(testRandomData + nonce))
		return hex.EncodeToString(sum[:]) == response && solver.CheckNibbles(sum[:], o.difficulty)
	}
}

func newTestServer(t *testing.T) (*Server, *tokencache.Cache) {
	t.Helper()
	cfg := config.Default()
	cfg.Upstream.Scheme = "http"
	cfg.Solver.Timeout = 10 * time.Second
	cfg.Cache.Persist = false

	cache := tokencache.New(cfg.Cache.TTL, nil)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, cache, nil, metrics.New(), log), cache
}

func proxyGet(t *testing.T, handler http.Handler, path string) (*http.Response, string) {
	t.Helper()
	front := httptest.NewServer(handler)
	t.Cleanup(front.Close)

	resp, err := http.Get(front.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestProxySolvesChallenge(t *testing.T) {
	origin := newGatedOrigin(t)
	srv, cache := newTestServer(t)

	resp, body := proxyGet(t, srv, "/proxy/"+origin.host()+"/content")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "origin content", body)

	assert.EqualValues(t, 1, origin.challengesServed.Load())
	assert.EqualValues(t, 1, origin.redemptions.Load())
	assert.EqualValues(t, 1, origin.contentServed.Load())

	rec, ok := cache.Get(origin.host())
	require.True(t, ok, "expected token cached after solve")
	assert.Contains(t, rec.Token, testCookieName+"="+testToken)
	assert.Equal(t, "1.21.3", rec.Version)
}

func TestProxyCacheHitSkipsSolve(t *testing.T) {
	origin := newGatedOrigin(t)
	srv, _ := newTestServer(t)

	front := httptest.NewServer(srv)
	t.Cleanup(front.Close)

	for i := 0; i < 3; i++ {
		resp, err := http.Get(front.URL + "/proxy/" + origin.host() + "/page")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "origin content", string(body))
	}

	// Only the first request pays for a solve.
	assert.EqualValues(t, 1, origin.redemptions.Load())
	assert.EqualValues(t, 3, origin.contentServed.Load())
}

func TestProxyHonorsTimeBasedWait(t *testing.T) {
	origin := newGatedOrigin(t)
	origin.algorithm = "preact"
	origin.difficulty = 3
	srv, _ := newTestServer(t)

	resp, body := proxyGet(t, srv, "/proxy/"+origin.host()+"/content")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "origin content", body)

	// The origin must not see the redemption before the enforced wait
	// (80ms per difficulty unit) has passed.
	elapsed := time.Duration(origin.redeemAt.Load() - origin.challengeAt.Load())
	assert.GreaterOrEqual(t, elapsed, 240*time.Millisecond)
}

func TestProxyHonorsMetaRefreshWait(t *testing.T) {
	origin := newGatedOrigin(t)
	origin.algorithm = "metarefresh"
	origin.difficulty = 2
	srv, _ := newTestServer(t)

	resp, body := proxyGet(t, srv, "/proxy/"+origin.host()+"/content")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "origin content", body)

	elapsed := time.Duration(origin.redeemAt.Load() - origin.challengeAt.Load())
	assert.GreaterOrEqual(t, elapsed, 1600*time.Millisecond)
}

func TestProxyUngatedPassthrough(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Origin", "yes")
		fmt.Fprint(w, "plain page")
	}))
	t.Cleanup(origin.Close)
	srv, _ := newTestServer(t)

	resp, body := proxyGet(t, srv, "/proxy/"+strings.TrimPrefix(origin.URL, "http://")+"/anything")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "plain page", body)
	assert.Equal(t, "yes", resp.Header.Get("X-Origin"))
}

func TestProxyRejectedRedemption(t *testing.T) {
	origin := newGatedOrigin(t)
	origin.rejectProofs = true
	srv, _ := newTestServer(t)

	resp, body := proxyGet(t, srv, "/proxy/"+origin.host()+"/content")

	// After the bounded retry the origin's own refusal is relayed.
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "begone")
	assert.EqualValues(t, 2, origin.redemptions.Load())
}

func TestProxyStaleTokenRecovery(t *testing.T) {
	origin := newGatedOrigin(t)
	srv, cache := newTestServer(t)

	// Prime the cache with a token the origin no longer accepts.
	require.NoError(t, cache.Put(context.Background(), models.TokenRecord{
		Host:  origin.host(),
		Token: testCookieName + "=stale",
	}))

	resp, body := proxyGet(t, srv, "/proxy/"+origin.host()+"/content")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "origin content", body)
	assert.EqualValues(t, 1, origin.redemptions.Load())

	rec, ok := cache.Get(origin.host())
	require.True(t, ok)
	assert.Contains(t, rec.Token, testToken)
}

func TestProxyBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	front := httptest.NewServer(srv)
	t.Cleanup(front.Close)

	resp, err := http.Post(front.URL+"/proxy/example.com/x", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(front.URL + "/proxy/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := proxyGet(t, srv, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := proxyGet(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "gatelift_")
}
