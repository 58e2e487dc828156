package handshake

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"brokerlink/internal/crypto"
	"brokerlink/internal/domain"
	"brokerlink/internal/protocol/oauth"
)

type liveSessionResponse struct {
	DHResponse      string `json:"diffie_hellman_response"`
	Signature       string `json:"live_session_token_signature"`
	ExpirationMilli int64  `json:"live_session_token_expiration"`
}

// deriveLiveSession performs the DH exchange that turns the persisted
// access token into a usable signing key.
//
// Correctness here is byte-level agreement with the venue: hex for DH
// values on the wire, the decrypted prepend ahead of the base string,
// big-endian shared-secret bytes with a sign byte when the high bit is
// set, and HMAC-SHA256 throughout.
func (m *Machine) deriveLiveSession(ctx context.Context, tok domain.AccessToken) (*domain.LiveSession, error) {
	prepend, err := crypto.DecryptRSA(m.keys.Encryption, tok.EncryptedSecret)
	if err != nil {
		return nil, &domain.HandshakeError{
			Stage: "live_session",
			Err:   fmt.Errorf("decrypting access token secret: %w", err),
		}
	}
	defer crypto.Zero(prepend)

	kp, err := crypto.GenerateDH(m.keys.P, m.keys.G)
	if err != nil {
		return nil, &domain.HandshakeError{
			Stage: "live_session",
			Err:   fmt.Errorf("generating DH challenge: %w", err),
		}
	}

	params := oauth.Params{"diffie_hellman_challenge": kp.Public.Text(16)}
	body, err := m.doSigned(ctx, "live_session", func() (oauth.SignedRequest, error) {
		// The venue verifies this signature over hex(prepend) + base string.
		return m.signer.SignRSA(http.MethodPost, m.cfg.Endpoints.LiveSession,
			params, tok.Token, m.keys.Signature, hex.EncodeToString(prepend))
	})
	if err != nil {
		return nil, err
	}

	var resp liveSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.HandshakeError{
			Stage: "live_session",
			Err:   fmt.Errorf("decoding response: %w", err),
		}
	}
	peer, ok := new(big.Int).SetString(resp.DHResponse, 16)
	if !ok {
		return nil, &domain.HandshakeError{
			Stage: "live_session",
			Err:   fmt.Errorf("unparsable diffie_hellman_response %q", resp.DHResponse),
		}
	}

	shared, err := kp.SharedSecret(peer, m.keys.P)
	if err != nil {
		return nil, &domain.HandshakeError{Stage: "live_session", Err: err}
	}
	defer crypto.Zero(shared)

	token := crypto.HMACSHA256(shared, prepend)

	// The server proves knowledge of the same token by HMAC-ing our
	// consumer key under it. Any mismatch means the handshake cannot be
	// trusted; discard the token and halt.
	wantProof, err := hex.DecodeString(resp.Signature)
	if err != nil {
		crypto.Zero(token)
		return nil, fmt.Errorf("undecodable live session proof: %w", domain.ErrSignatureMismatch)
	}
	proof := crypto.HMACSHA256(token, []byte(m.signer.ConsumerKey))
	if !crypto.ConstantTimeEqual(proof, wantProof) {
		crypto.Zero(token)
		return nil, fmt.Errorf("verifying live session proof: %w", domain.ErrSignatureMismatch)
	}

	now := time.Now()
	expiresAt := now.Add(m.cfg.SessionTTL)
	if resp.ExpirationMilli > 0 {
		expiresAt = time.UnixMilli(resp.ExpirationMilli)
	}
	return &domain.LiveSession{Token: token, CreatedAt: now, ExpiresAt: expiresAt}, nil
}
