// Package broker is the venue-facing side of the module: a transport that
// signs every outgoing call with the current live session and enforces the
// retry and refresh policies, and a stateless trading client (contract
// search, quotes, orders, positions) built on top of it.
//
// Policy, in one place:
//   - transient network errors are retried with bounded exponential
//     backoff, but only for idempotent calls;
//   - a 401 while a session is believed active triggers exactly one
//     single-flight session refresh and one replay of the original call; a
//     second 401 escalates to a handshake error;
//   - venue business rejections surface verbatim and are never retried.
package broker
