// Package app wires the license components of one process together.
//
// New loads nothing but logging and telemetry. The key manager, registry,
// issuer service, validator and client service are opened on first use, so
// the CLI's keygen command never touches the registry and the validate
// command never needs a private key. Handler assembles the chi router with
// the middleware chain:
//
//	otel -> request id -> real ip -> access log -> recover -> security headers
//	     -> rate limit -> license guard -> routes
//
// Serve runs the server until its context is cancelled and shuts it down
// within Server.ShutdownTimeout. Close releases whatever was opened.
package app
