package handshake

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"brokerlink/internal/domain"
	"brokerlink/internal/keystore"
	"brokerlink/internal/protocol/oauth"
)

// State is the handshake machine's position in the token lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateRequestTokenObtained
	StateAccessTokenObtained
	StateLiveSessionEstablished
	StateActive
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateRequestTokenObtained:
		return "request_token_obtained"
	case StateAccessTokenObtained:
		return "access_token_obtained"
	case StateLiveSessionEstablished:
		return "live_session_established"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Doer issues HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Endpoints are the venue's three token URLs.
type Endpoints struct {
	RequestToken string
	AccessToken  string
	LiveSession  string
}

// Config tunes a Machine.
type Config struct {
	Endpoints Endpoints
	// Verifier is the out-of-band authorization code for the access-token
	// exchange; obtaining it is outside this package's scope.
	Verifier string
	// SessionTTL is the assumed live-session validity window, used when
	// the venue does not return an explicit expiration.
	SessionTTL time.Duration
	// MaxRetries bounds backoff retries of pure network errors.
	MaxRetries int
}

// Machine walks the token lifecycle. It is safe for concurrent state
// inspection, but Establish itself is serialized by the session manager.
type Machine struct {
	signer *oauth.Signer
	keys   *keystore.KeyMaterial
	tokens domain.TokenStore
	http   Doer
	log    *logrus.Logger
	cfg    Config

	mu    sync.Mutex
	state State
}

// New builds a Machine in the Unauthenticated state.
func New(signer *oauth.Signer, keys *keystore.KeyMaterial, tokens domain.TokenStore,
	httpClient Doer, log *logrus.Logger, cfg Config) *Machine {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Machine{
		signer: signer,
		keys:   keys,
		tokens: tokens,
		http:   httpClient,
		log:    log,
		cfg:    cfg,
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.log.WithField("state", s.String()).Debug("handshake state")
}

// MarkExpired records that the session the caller held is no longer
// honored by the venue. The next Establish skips straight to re-deriving
// a live session from the stored access token.
func (m *Machine) MarkExpired() {
	m.setState(StateExpired)
}

// Establish runs as much of the handshake as the persisted state requires
// and returns a verified live session.
func (m *Machine) Establish(ctx context.Context) (*domain.LiveSession, error) {
	tok, _, ok, err := m.tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("loading token store: %w", err)
	}

	if !ok || m.tokens.NearExpiry(time.Now()) {
		m.setState(StateUnauthenticated)
		rt, err := m.requestToken(ctx)
		if err != nil {
			return nil, err
		}
		m.setState(StateRequestTokenObtained)

		tok, err = m.exchangeAccessToken(ctx, rt)
		if err != nil {
			return nil, err
		}
		if err := m.tokens.Save(tok); err != nil {
			return nil, fmt.Errorf("persisting access token: %w", err)
		}
	}
	m.setState(StateAccessTokenObtained)

	sess, err := m.deriveLiveSession(ctx, tok)
	if err != nil {
		return nil, err
	}
	m.setState(StateLiveSessionEstablished)
	m.setState(StateActive)
	m.log.WithField("expires_at", sess.ExpiresAt).Info("live session established")
	return sess, nil
}

func (m *Machine) requestToken(ctx context.Context) (domain.RequestToken, error) {
	body, err := m.doSigned(ctx, "request_token", func() (oauth.SignedRequest, error) {
		return m.signer.SignRSA(http.MethodPost, m.cfg.Endpoints.RequestToken,
			nil, "", m.keys.Signature, "")
	})
	if err != nil {
		return domain.RequestToken{}, err
	}
	vals, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil || vals.Get("oauth_token") == "" {
		return domain.RequestToken{}, &domain.HandshakeError{
			Stage: "request_token",
			Err:   errors.New("unparsable token response"),
		}
	}
	return domain.RequestToken{
		Token:  vals.Get("oauth_token"),
		Secret: vals.Get("oauth_token_secret"),
	}, nil
}

func (m *Machine) exchangeAccessToken(ctx context.Context, rt domain.RequestToken) (domain.AccessToken, error) {
	params := oauth.Params{}
	if m.cfg.Verifier != "" {
		params["oauth_verifier"] = m.cfg.Verifier
	}
	body, err := m.doSigned(ctx, "access_token", func() (oauth.SignedRequest, error) {
		return m.signer.SignRSA(http.MethodPost, m.cfg.Endpoints.AccessToken,
			params, rt.Token, m.keys.Signature, "")
	})
	if err != nil {
		return domain.AccessToken{}, err
	}
	vals, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil || vals.Get("oauth_token") == "" {
		return domain.AccessToken{}, &domain.HandshakeError{
			Stage: "access_token",
			Err:   errors.New("unparsable token response"),
		}
	}
	secret, err := base64.StdEncoding.DecodeString(vals.Get("oauth_token_secret"))
	if err != nil {
		return domain.AccessToken{}, &domain.HandshakeError{
			Stage: "access_token",
			Err:   fmt.Errorf("decoding encrypted secret: %w", err),
		}
	}
	return domain.AccessToken{
		Token:           vals.Get("oauth_token"),
		EncryptedSecret: secret,
	}, nil
}

// doSigned posts one signed request, re-signing per attempt so every retry
// carries a fresh nonce and timestamp. Only transport errors are retried;
// any HTTP rejection is final.
func (m *Machine) doSigned(ctx context.Context, stage string,
	sign func() (oauth.SignedRequest, error)) ([]byte, error) {

	backoffCfg := backoff.NewExponentialBackOff()
	var lastErr error

	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		signed, err := sign()
		if err != nil {
			return nil, &domain.HandshakeError{Stage: stage, Err: err}
		}

		body, status, err := post(ctx, m.http, signed)
		if err != nil {
			lastErr = &domain.TransientNetworkError{Err: err}
			m.log.WithFields(logrus.Fields{
				"stage":   stage,
				"attempt": attempt + 1,
			}).WithError(err).Warn("handshake call failed, backing off")

			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
			continue
		}
		if status != http.StatusOK {
			return nil, &domain.HandshakeError{
				Stage:  stage,
				Status: status,
				Err:    errors.New(strings.TrimSpace(string(body))),
			}
		}
		return body, nil
	}
	return nil, lastErr
}

// post sends a SignedRequest with its parameters as a form body.
func post(ctx context.Context, doer Doer, signed oauth.SignedRequest) ([]byte, int, error) {
	form := url.Values{}
	for k, v := range signed.Params {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, signed.Method, signed.URL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", signed.Authorization)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := doer.Do(req)
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
