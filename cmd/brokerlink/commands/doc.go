// Package commands defines the brokerlink CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - handshake    Run the full OAuth handshake and establish a live session
//   - status       Show handshake state and stored token age
//   - fingerprint  Print the public key fingerprints
//   - search       Find contracts by symbol
//   - quote        Fetch a market snapshot
//   - order        Place a market order with a protective stop
//   - cancel       Cancel a working order
//   - positions    List open positions
//
// # Implementation
//
// The root command loads configuration from the environment (optionally
// seeded from a dotenv file via --env), validates the key material, and
// builds the dependency graph before any subcommand runs. Command output is
// JSON so it composes with shell tooling.
package commands
