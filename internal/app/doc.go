// Package app wires application dependencies for the CLI.
//
// It loads the validated configuration from the environment, builds the
// key store, token store, handshake machine, session manager and trading
// client, and exposes them via the Wire struct for commands to use.
package app
