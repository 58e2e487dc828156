package oauth

import (
	"crypto/rsa"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"brokerlink/internal/crypto"
	"brokerlink/internal/domain"
)

const (
	methodHMAC = "HMAC-SHA256"
	methodRSA  = "RSA-SHA256"
	version    = "1.0"
)

// Params are the request parameters that participate in signing.
type Params map[string]string

// Encode percent-encodes s, leaving only the RFC 3986 unreserved set.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// BaseString builds the OAuth signature base string for one request.
func BaseString(method, rawURL string, params Params) string {
	pairs := make([][2]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, [2]string{Encode(k), Encode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	var joined strings.Builder
	for i, p := range pairs {
		if i > 0 {
			joined.WriteByte('&')
		}
		joined.WriteString(p[0])
		joined.WriteByte('=')
		joined.WriteString(p[1])
	}

	return strings.ToUpper(method) + "&" + Encode(rawURL) + "&" + Encode(joined.String())
}

// SignedRequest is a transient, fully signed outgoing call.
type SignedRequest struct {
	Method        string
	URL           string
	Params        Params
	Authorization string
}

// Signer assembles Authorization headers for the configured consumer.
// It is stateless apart from its immutable identity fields and safe for
// concurrent use.
type Signer struct {
	ConsumerKey string
	Realm       string

	// now and nonce exist so tests can pin time and randomness; zero
	// values mean real clock and fresh UUIDs.
	now   func() time.Time
	nonce func() string
}

// NewSigner returns a Signer for the given consumer identity.
func NewSigner(consumerKey, realm string) *Signer {
	return &Signer{ConsumerKey: consumerKey, Realm: realm}
}

func (s *Signer) timestamp() string {
	if s.now != nil {
		return strconv.FormatInt(s.now().Unix(), 10)
	}
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func (s *Signer) newNonce() string {
	if s.nonce != nil {
		return s.nonce()
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SignRSA signs a handshake request with the consumer's RSA signature key.
// token may be empty (request-token step). prefix, when non-empty, is
// prepended to the base string before signing; the venue requires the
// decrypted access-token secret there during live-session derivation.
func (s *Signer) SignRSA(method, rawURL string, params Params, token string,
	key *rsa.PrivateKey, prefix string) (SignedRequest, error) {

	oauthParams := s.oauthParams(methodRSA, token)
	all := merge(params, oauthParams)

	base := prefix + BaseString(method, rawURL, all)
	sig, err := crypto.SignRSASHA256(key, []byte(base))
	if err != nil {
		return SignedRequest{}, fmt.Errorf("signing base string: %w", err)
	}
	return SignedRequest{
		Method:        method,
		URL:           rawURL,
		Params:        params,
		Authorization: s.header(oauthParams, sig),
	}, nil
}

// SignSession signs a trading call with the live session token. token is
// the access token, carried as oauth_token for authorization context.
func (s *Signer) SignSession(method, rawURL string, params Params, token string,
	sess *domain.LiveSession) (SignedRequest, error) {

	if sess == nil || len(sess.Token) == 0 {
		return SignedRequest{}, fmt.Errorf("no live session to sign with")
	}
	oauthParams := s.oauthParams(methodHMAC, token)
	all := merge(params, oauthParams)

	base := BaseString(method, rawURL, all)
	sig := crypto.SignHMACSHA256(sess.Token, []byte(base))
	return SignedRequest{
		Method:        method,
		URL:           rawURL,
		Params:        params,
		Authorization: s.header(oauthParams, sig),
	}, nil
}

func (s *Signer) oauthParams(sigMethod, token string) Params {
	p := Params{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            s.newNonce(),
		"oauth_signature_method": sigMethod,
		"oauth_timestamp":        s.timestamp(),
		"oauth_version":          version,
	}
	if token != "" {
		p["oauth_token"] = token
	}
	return p
}

// header renders the Authorization value: realm first, then the oauth_
// parameters sorted, signature last assembled alongside them.
func (s *Signer) header(oauthParams Params, signature string) string {
	keys := make([]string, 0, len(oauthParams)+1)
	for k := range oauthParams {
		keys = append(keys, k)
	}
	keys = append(keys, "oauth_signature")
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`OAuth realm="` + Encode(s.Realm) + `"`)
	for _, k := range keys {
		v := oauthParams[k]
		if k == "oauth_signature" {
			v = signature
		}
		b.WriteString(`, ` + k + `="` + Encode(v) + `"`)
	}
	return b.String()
}

func merge(params, oauthParams Params) Params {
	all := make(Params, len(params)+len(oauthParams))
	for k, v := range params {
		all[k] = v
	}
	for k, v := range oauthParams {
		all[k] = v
	}
	return all
}
