// Package oauth implements OAuth1.0a request signing as the venue expects
// it: signature-base-string construction over sorted percent-encoded
// parameters, RSA-SHA256 signatures during the handshake, and HMAC-SHA256
// signatures under the live session token for every trading call.
//
// # Base string
//
// BaseString(method, url, params) percent-encodes every key and value with
// the RFC 3986 unreserved set (A-Za-z0-9-._~), sorts the encoded pairs by
// key then value, and joins METHOD&encodedURL&encodedPairs. The output is
// byte-deterministic regardless of map iteration order.
//
// # Nonces
//
// Every signed request carries a fresh cryptographically random nonce and
// the current Unix timestamp; nonce reuse inside the session window would
// be rejected by the venue's replay protection.
package oauth
