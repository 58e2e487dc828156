// Package handshake drives the OAuth token lifecycle against the venue:
//
//	Unauthenticated → RequestTokenObtained → AccessTokenObtained
//	               → LiveSessionEstablished → Active
//
// with Expired reachable from Active and feeding back into
// AccessTokenObtained (access tokens outlive sessions, so an expired
// session never re-requests a request token).
//
// # Flows
//
// Full handshake:
//  1. RSA-SHA256-signed request to the request-token endpoint.
//  2. Exchange the request token (the out-of-band user authorization is an
//     external precondition) for an access token plus an RSA-encrypted
//     secret; persist both atomically.
//  3. Derive the live session token (see derive.go): RSA-decrypt the
//     secret, run the Diffie-Hellman exchange, HMAC the decrypted prepend
//     under the shared secret, and verify the server's proof in constant
//     time.
//
// # Errors
//
// Venue rejections surface as domain.HandshakeError and are never retried
// automatically. A failed proof verification surfaces as
// domain.ErrSignatureMismatch and must halt the process: it indicates
// corrupted key material or an untrustworthy channel, and retrying with
// the same inputs would prove nothing. Only pure network errors are
// retried, under a bounded exponential backoff.
package handshake
