// Package rustytools exposes the Rust toolchain (cargo, rustc, clippy) to
// coding agents over MCP, with optional local history of diagnostics.
package rustytools

// Version is the rustytools release, overridden at link time.
var Version = "dev"
