// Package store persists the access token across process restarts.
//
// The record is a single JSON document {access_token, encrypted_secret,
// stored_at}, written via a temp file and rename so a crash can never
// leave a half-written store. When a passphrase is configured the record
// is additionally sealed at rest with a scrypt-derived ChaCha20-Poly1305
// key; a wrong passphrase fails closed.
package store
