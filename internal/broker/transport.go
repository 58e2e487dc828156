package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"brokerlink/internal/domain"
	"brokerlink/internal/protocol/oauth"
)

// Doer issues HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// statusError carries a non-2xx venue response for the client to map.
type statusError struct {
	Status int
	Body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("venue returned HTTP %d: %s", e.Status, strings.TrimSpace(string(e.Body)))
}

// Transport signs and issues venue calls under the module's retry and
// refresh policies. It caches the access token keyed to the live session
// it was loaded with, so the sealed store is not read on every call and a
// session refresh always picks up the token the refresh may have rotated.
// Safe for concurrent use by the caller's worker pool.
type Transport struct {
	client     Doer
	signer     *oauth.Signer
	sessions   domain.SessionSource
	tokens     domain.TokenStore
	log        *logrus.Logger
	maxRetries int

	mu        sync.Mutex
	cachedTok domain.AccessToken
	cachedFor *domain.LiveSession
}

// NewTransport wires a Transport.
func NewTransport(client Doer, signer *oauth.Signer, sessions domain.SessionSource,
	tokens domain.TokenStore, log *logrus.Logger, maxRetries int) *Transport {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Transport{
		client:     client,
		signer:     signer,
		sessions:   sessions,
		tokens:     tokens,
		log:        log,
		maxRetries: maxRetries,
	}
}

// Call signs one venue call and decodes its JSON response into out (which
// may be nil for ack-only endpoints). idempotent gates the transient-error
// retry loop: order placement never passes true here.
func (t *Transport) Call(ctx context.Context, method, rawURL string, params oauth.Params,
	idempotent bool, out any) error {

	backoffCfg := backoff.NewExponentialBackOff()
	refreshed := false

	for attempt := 0; ; attempt++ {
		sess, err := t.sessions.Session(ctx)
		if err != nil {
			return err
		}
		accessToken, err := t.accessTokenFor(sess)
		if err != nil {
			return err
		}
		signed, err := t.signer.SignSession(method, rawURL, params, accessToken.Token, sess)
		if err != nil {
			return err
		}
		body, status, err := send(ctx, t.client, signed)
		if err != nil {
			terr := &domain.TransientNetworkError{Err: err}
			if !idempotent || attempt >= t.maxRetries {
				return terr
			}
			t.log.WithFields(logrus.Fields{
				"url":     rawURL,
				"attempt": attempt + 1,
			}).WithError(err).Warn("venue call failed, backing off")
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				return terr
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			continue
		}

		switch {
		case status == http.StatusUnauthorized:
			if refreshed {
				// Refresh did not help: the access token itself is bad.
				return &domain.HandshakeError{
					Stage:  "trading",
					Status: status,
					Err:    domain.ErrAuthExpired,
				}
			}
			t.log.WithField("url", rawURL).Info("session rejected, refreshing once")
			t.sessions.Invalidate(sess)
			refreshed = true
			continue

		case status < 200 || status > 299:
			return &statusError{Status: status, Body: body}
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding venue response: %w", err)
		}
		return nil
	}
}

// accessTokenFor returns the access token paired with sess. A live session
// is derived from exactly one access token, so the cache is keyed on the
// session's identity: establishing or refreshing a session (which may have
// rotated the stored token during a full handshake) forces a reload, and
// every later call under the same session reuses the cached copy.
func (t *Transport) accessTokenFor(sess *domain.LiveSession) (domain.AccessToken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cachedFor == sess {
		return t.cachedTok, nil
	}
	tok, _, ok, err := t.tokens.Load()
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("loading access token: %w", err)
	}
	if !ok {
		return domain.AccessToken{}, fmt.Errorf("access token missing from store")
	}
	t.cachedTok, t.cachedFor = tok, sess
	return tok, nil
}

// send performs a single signed HTTP exchange. GET parameters ride in the
// query string, everything else as a form body; either way the same
// parameter set participated in the signature.
func send(ctx context.Context, client Doer, signed oauth.SignedRequest) ([]byte, int, error) {
	values := url.Values{}
	for k, v := range signed.Params {
		values.Set(k, v)
	}

	var req *http.Request
	var err error
	if signed.Method == http.MethodGet {
		target := signed.URL
		if enc := values.Encode(); enc != "" {
			target += "?" + enc
		}
		req, err = http.NewRequestWithContext(ctx, signed.Method, target, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, signed.Method, signed.URL,
			strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", signed.Authorization)

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
