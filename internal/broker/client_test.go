package broker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerlink/internal/broker"
	"brokerlink/internal/crypto"
	"brokerlink/internal/domain"
	"brokerlink/internal/protocol/oauth"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeSessions hands out a fixed session and rotates it on Invalidate.
type fakeSessions struct {
	mu          sync.Mutex
	sess        *domain.LiveSession
	invalidated int32
}

func newFakeSessions(token string) *fakeSessions {
	return &fakeSessions{sess: sessionWithToken(token)}
}

func sessionWithToken(token string) *domain.LiveSession {
	now := time.Now()
	return &domain.LiveSession{
		Token:     []byte(token),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func (f *fakeSessions) Session(context.Context) (*domain.LiveSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess, nil
}

func (f *fakeSessions) Invalidate(sess *domain.LiveSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess == f.sess {
		atomic.AddInt32(&f.invalidated, 1)
		f.sess = sessionWithToken("rotated-session-token")
	}
}

// fakeTokens is an in-memory domain.TokenStore that counts Load calls.
type fakeTokens struct {
	mu    sync.Mutex
	tok   domain.AccessToken
	loads int32
}

func (f *fakeTokens) Load() (domain.AccessToken, time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	atomic.AddInt32(&f.loads, 1)
	return f.tok, time.Now(), true, nil
}

func (f *fakeTokens) Save(tok domain.AccessToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tok = tok
	return nil
}
func (f *fakeTokens) NearExpiry(time.Time) bool { return false }

// rotatingSessions models a refresh that runs a full handshake: invalidating
// the session saves a new access token to the store and derives the next
// session from it.
type rotatingSessions struct {
	mu     sync.Mutex
	tokens *fakeTokens
	sess   *domain.LiveSession

	nextToken   string
	nextSession string
	rotations   int32
}

func (f *rotatingSessions) Session(context.Context) (*domain.LiveSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess, nil
}

func (f *rotatingSessions) Invalidate(sess *domain.LiveSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess != f.sess {
		return
	}
	atomic.AddInt32(&f.rotations, 1)
	_ = f.tokens.Save(domain.AccessToken{Token: f.nextToken})
	f.sess = sessionWithToken(f.nextSession)
}

type orderRec struct {
	ClientOID string
	Side      string
	Type      string
	StopPrice string
	ParentID  string
	OrderID   string
}

// tradingVenue is a mock venue that verifies every HMAC signature against
// the session key it currently honors and deduplicates orders by client
// order ID.
type tradingVenue struct {
	t *testing.T

	mu          sync.Mutex
	hmacKey     []byte
	accessToken string              // when set, the only oauth_token honored
	orders      map[string]orderRec // by client_oid
	nextID      int
	rejected    int32

	rejectPrimary  bool
	quoteDelayedMS int64

	srv *httptest.Server
}

func newTradingVenue(t *testing.T, sessionToken string) *tradingVenue {
	v := &tradingVenue{
		t:       t,
		hmacKey: []byte(sessionToken),
		orders:  make(map[string]orderRec),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/contracts/search", v.withAuth(v.handleSearch))
	mux.HandleFunc("/v1/quote", v.withAuth(v.handleQuote))
	mux.HandleFunc("/v1/orders", v.withAuth(v.handleOrder))
	mux.HandleFunc("/v1/orders/cancel", v.withAuth(v.handleCancel))
	mux.HandleFunc("/v1/positions", v.withAuth(v.handlePositions))
	v.srv = httptest.NewServer(mux)
	t.Cleanup(v.srv.Close)
	return v
}

func (v *tradingVenue) honorToken(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hmacKey = []byte(token)
}

// honorAccessToken makes the venue additionally reject any request whose
// oauth_token is not the given one.
func (v *tradingVenue) honorAccessToken(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accessToken = token
}

// withAuth rejects any request whose HMAC-SHA256 signature does not verify
// under the currently honored session key.
func (v *tradingVenue) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, params, err := oauth.ParseAuthorization(r.Header.Get("Authorization"))
		if err != nil || params["oauth_signature_method"] != "HMAC-SHA256" {
			http.Error(w, "bad authorization header", http.StatusUnauthorized)
			return
		}

		all := oauth.Params{}
		if r.Method == http.MethodGet {
			for k := range r.URL.Query() {
				all[k] = r.URL.Query().Get(k)
			}
		} else {
			require.NoError(v.t, r.ParseForm())
			for k := range r.PostForm {
				all[k] = r.PostForm.Get(k)
			}
		}
		// The oauth_ parameters travel in the header, not the query/body;
		// fold them back in the way the venue's verifier does.
		for k, p := range params {
			if k != "oauth_signature" {
				all[k] = p
			}
		}

		rawURL := v.srv.URL + r.URL.Path
		base := oauth.BaseString(r.Method, rawURL, all)

		v.mu.Lock()
		want := crypto.SignHMACSHA256(v.hmacKey, []byte(base))
		accessToken := v.accessToken
		v.mu.Unlock()
		if params["oauth_signature"] != want {
			http.Error(w, "signature rejected", http.StatusUnauthorized)
			return
		}
		if accessToken != "" && params["oauth_token"] != accessToken {
			http.Error(w, "unknown access token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (v *tradingVenue) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("symbol") != "SPY" {
		_ = json.NewEncoder(w).Encode([]domain.ContractRef{})
		return
	}
	_ = json.NewEncoder(w).Encode([]domain.ContractRef{
		{ID: "756733", Symbol: "SPY", SecType: "STK", Exchange: "ARCA"},
	})
}

func (v *tradingVenue) handleQuote(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"bid":        "428.41",
		"ask":        "428.43",
		"last":       "428.42",
		"delayed_ms": v.quoteDelayedMS,
		"as_of":      time.Now().UnixMilli(),
	})
}

func (v *tradingVenue) handleOrder(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()

	oid := r.PostForm.Get("client_oid")
	if existing, ok := v.orders[oid]; ok {
		// Duplicate client order ID: acknowledge the existing order
		// instead of double-submitting.
		_ = json.NewEncoder(w).Encode(orderAck{OrderID: existing.OrderID, Status: "Duplicate"})
		return
	}
	if v.rejectPrimary && r.PostForm.Get("parent_id") == "" {
		atomic.AddInt32(&v.rejected, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":   "201",
			"reason": "insufficient margin",
		})
		return
	}

	v.nextID++
	rec := orderRec{
		ClientOID: oid,
		Side:      r.PostForm.Get("side"),
		Type:      r.PostForm.Get("order_type"),
		StopPrice: r.PostForm.Get("stop_price"),
		ParentID:  r.PostForm.Get("parent_id"),
		OrderID:   fmt.Sprintf("ord-%d", v.nextID),
	}
	v.orders[oid] = rec
	_ = json.NewEncoder(w).Encode(orderAck{OrderID: rec.OrderID, Status: "Submitted"})
}

type orderAck struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (v *tradingVenue) handleCancel(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
}

func (v *tradingVenue) handlePositions(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode([]domain.Position{
		{
			Contract: domain.ContractRef{ID: "756733", Symbol: "SPY", SecType: "STK"},
			Quantity: decimal.NewFromInt(100),
			AvgCost:  decimal.RequireFromString("412.55"),
		},
	})
}

func (v *tradingVenue) orderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.orders)
}

func newClient(t *testing.T, v *tradingVenue, sessions domain.SessionSource) *broker.Client {
	t.Helper()
	tr := broker.NewTransport(v.srv.Client(), oauth.NewSigner("TESTCONSUMER", "test_realm"),
		sessions, &fakeTokens{tok: domain.AccessToken{Token: "at-token"}}, testLogger(), 3)
	return broker.NewClient(tr, v.srv.URL, 10*time.Second)
}

func TestSearchContract(t *testing.T) {
	v := newTradingVenue(t, "session-token")
	c := newClient(t, v, newFakeSessions("session-token"))

	refs, err := c.SearchContract(context.Background(), domain.ContractQuery{Symbol: "SPY"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "756733", refs[0].ID)

	_, err = c.SearchContract(context.Background(), domain.ContractQuery{Symbol: "NOPE"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetQuote(t *testing.T) {
	v := newTradingVenue(t, "session-token")
	c := newClient(t, v, newFakeSessions("session-token"))
	ref := domain.ContractRef{ID: "756733", Symbol: "SPY"}

	q, err := c.GetQuote(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, q.Bid.Equal(decimal.RequireFromString("428.41")))
	assert.True(t, q.Ask.Equal(decimal.RequireFromString("428.43")))
	assert.True(t, q.Last.Equal(decimal.RequireFromString("428.42")))
}

func TestGetQuote_StaleBeyondTolerance(t *testing.T) {
	v := newTradingVenue(t, "session-token")
	v.quoteDelayedMS = int64((30 * time.Second) / time.Millisecond)
	c := newClient(t, v, newFakeSessions("session-token"))

	_, err := c.GetQuote(context.Background(), domain.ContractRef{ID: "756733", Symbol: "SPY"})
	assert.ErrorIs(t, err, domain.ErrStaleData)
}

func TestPlaceOrderWithStop_BothLegsSubmitted(t *testing.T) {
	v := newTradingVenue(t, "session-token")
	c := newClient(t, v, newFakeSessions("session-token"))
	ref := domain.ContractRef{ID: "756733", Symbol: "SPY"}

	res, err := c.PlaceOrderWithStop(context.Background(), ref, domain.Buy,
		decimal.NewFromInt(100), decimal.RequireFromString("0.95"), "key-1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
	assert.NotEmpty(t, res.StopOrderID)
	assert.NotEqual(t, res.OrderID, res.StopOrderID)

	v.mu.Lock()
	stop := v.orders["key-1-stop"]
	v.mu.Unlock()
	assert.Equal(t, "SELL", stop.Side)
	assert.Equal(t, "STP", stop.Type)
	assert.Equal(t, res.OrderID, stop.ParentID)
	// 428.42 * 0.95, exact decimal arithmetic.
	assert.Equal(t, "406.999", stop.StopPrice)
}

func TestPlaceOrderWithStop_RejectedPrimaryNeverSubmitsStop(t *testing.T) {
	v := newTradingVenue(t, "session-token")
	v.rejectPrimary = true
	c := newClient(t, v, newFakeSessions("session-token"))
	ref := domain.ContractRef{ID: "756733", Symbol: "SPY"}

	_, err := c.PlaceOrderWithStop(context.Background(), ref, domain.Buy,
		decimal.NewFromInt(100), decimal.RequireFromString("0.95"), "key-1")

	var rej *domain.OrderRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "201", rej.Code)
	assert.Equal(t, "insufficient margin", rej.Reason)
	assert.Zero(t, v.orderCount(), "no stop order may exist after a rejected primary")
}

func TestPlaceOrderWithStop_IdempotencyKeyDeduplicates(t *testing.T) {
	v := newTradingVenue(t, "session-token")
	c := newClient(t, v, newFakeSessions("session-token"))
	ref := domain.ContractRef{ID: "756733", Symbol: "SPY"}

	first, err := c.PlaceOrderWithStop(context.Background(), ref, domain.Buy,
		decimal.NewFromInt(100), decimal.RequireFromString("0.95"), "retry-key")
	require.NoError(t, err)

	// Caller retries after a presumed timeout with the same key: the venue
	// must recognize both legs and keep at most one live order per leg.
	second, err := c.PlaceOrderWithStop(context.Background(), ref, domain.Buy,
		decimal.NewFromInt(100), decimal.RequireFromString("0.95"), "retry-key")
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 2, v.orderCount(), "one primary and one stop, despite the retry")
}

func TestCancelOrderAndListPositions(t *testing.T) {
	v := newTradingVenue(t, "session-token")
	c := newClient(t, v, newFakeSessions("session-token"))

	require.NoError(t, c.CancelOrder(context.Background(), "ord-1"))

	positions, err := c.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "SPY", positions[0].Contract.Symbol)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(100)))
}

func Test401TriggersExactlyOneRefresh(t *testing.T) {
	// The venue stopped honoring the old session; the transport must
	// invalidate once, pick up the rotated session and replay the call.
	v := newTradingVenue(t, "rotated-session-token")
	sessions := newFakeSessions("expired-session-token")
	c := newClient(t, v, sessions)

	q, err := c.GetQuote(context.Background(), domain.ContractRef{ID: "756733", Symbol: "SPY"})
	require.NoError(t, err)
	assert.False(t, q.Last.IsZero())
	assert.EqualValues(t, 1, sessions.invalidated)
}

func TestSecond401EscalatesToHandshakeError(t *testing.T) {
	// Even the rotated session is rejected: escalate instead of looping.
	v := newTradingVenue(t, "token-the-venue-never-honors")
	sessions := newFakeSessions("expired-session-token")
	c := newClient(t, v, sessions)

	_, err := c.GetQuote(context.Background(), domain.ContractRef{ID: "756733", Symbol: "SPY"})
	var he *domain.HandshakeError
	require.ErrorAs(t, err, &he)
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.EqualValues(t, 1, sessions.invalidated)
}

func TestRefreshPicksUpRotatedAccessToken(t *testing.T) {
	// A refresh that runs a full handshake rotates the stored access token
	// along with the session. The venue honors only the new pair, so the
	// replay must sign with the token now in the store, not the one the
	// call started with.
	v := newTradingVenue(t, "session-2")
	v.honorAccessToken("at-token-2")

	tokens := &fakeTokens{tok: domain.AccessToken{Token: "at-token-1"}}
	sessions := &rotatingSessions{
		tokens:      tokens,
		sess:        sessionWithToken("session-1"),
		nextToken:   "at-token-2",
		nextSession: "session-2",
	}
	tr := broker.NewTransport(v.srv.Client(), oauth.NewSigner("TESTCONSUMER", "test_realm"),
		sessions, tokens, testLogger(), 3)
	c := broker.NewClient(tr, v.srv.URL, 10*time.Second)

	q, err := c.GetQuote(context.Background(), domain.ContractRef{ID: "756733", Symbol: "SPY"})
	require.NoError(t, err)
	assert.Equal(t, "428.42", q.Last.String())
	assert.EqualValues(t, 1, sessions.rotations)
}

func TestAccessTokenCachedAcrossCalls(t *testing.T) {
	// The store is hit once per session, not once per call: repeated calls
	// under the same session reuse the cached token, and a refresh forces
	// exactly one reload.
	v := newTradingVenue(t, "session-token")
	tokens := &fakeTokens{tok: domain.AccessToken{Token: "at-token"}}
	sessions := newFakeSessions("session-token")
	tr := broker.NewTransport(v.srv.Client(), oauth.NewSigner("TESTCONSUMER", "test_realm"),
		sessions, tokens, testLogger(), 3)
	c := broker.NewClient(tr, v.srv.URL, 10*time.Second)

	ref := domain.ContractRef{ID: "756733", Symbol: "SPY"}
	for i := 0; i < 5; i++ {
		_, err := c.GetQuote(context.Background(), ref)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&tokens.loads))

	// Rotate the session; the venue follows, and the next call reloads.
	v.honorToken("rotated-session-token")
	cur, err := sessions.Session(context.Background())
	require.NoError(t, err)
	sessions.Invalidate(cur)
	_, err = c.GetQuote(context.Background(), ref)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&tokens.loads))
}

// flakyDoer fails the first n exchanges at the transport level.
type flakyDoer struct {
	inner    broker.Doer
	failures int32
}

func (d *flakyDoer) Do(r *http.Request) (*http.Response, error) {
	if atomic.AddInt32(&d.failures, -1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return d.inner.Do(r)
}

func TestTransientErrorsRetriedForReadsOnly(t *testing.T) {
	v := newTradingVenue(t, "session-token")
	doer := &flakyDoer{inner: v.srv.Client(), failures: 1}
	tr := broker.NewTransport(doer, oauth.NewSigner("TESTCONSUMER", "test_realm"),
		newFakeSessions("session-token"),
		&fakeTokens{tok: domain.AccessToken{Token: "at-token"}}, testLogger(), 3)
	c := broker.NewClient(tr, v.srv.URL, 10*time.Second)

	// Read path: retried past the transient failure.
	refs, err := c.SearchContract(context.Background(), domain.ContractQuery{Symbol: "SPY"})
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	// Write path: surfaced immediately, never silently retried.
	doer2 := &flakyDoer{inner: v.srv.Client(), failures: 1}
	tr2 := broker.NewTransport(doer2, oauth.NewSigner("TESTCONSUMER", "test_realm"),
		newFakeSessions("session-token"),
		&fakeTokens{tok: domain.AccessToken{Token: "at-token"}}, testLogger(), 3)
	c2 := broker.NewClient(tr2, v.srv.URL, 10*time.Second)

	err = c2.CancelOrder(context.Background(), "ord-1")
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Zero(t, v.orderCount())
}
