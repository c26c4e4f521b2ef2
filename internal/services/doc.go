// Package services is the layer the HTTP handlers and the CLI call into.
//
// IssuerService wraps the signer, the registry and the report exporter.
// ClientService validates the installed license for this machine and caches
// the result briefly so request guards stay cheap. HealthService reports
// liveness and the state of both.
//
// Services take their collaborators as constructor arguments and hold no
// package state.
package services
