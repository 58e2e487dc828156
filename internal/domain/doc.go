// Package domain holds the shared types, storage interfaces and error
// taxonomy used across the handshake, signing and trading packages.
package domain
