// Package crypto provides the pure cryptographic operations behind the
// OAuth handshake: RSA-SHA256 and HMAC-SHA256 signing, RSA decryption of
// the access-token secret, and classic finite-field Diffie-Hellman on
// arbitrary-precision integers.
//
// Everything here is stateless and deterministic for fixed inputs except
// the random generators (nonces, DH exponents).
package crypto
