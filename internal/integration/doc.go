// Package integration holds end-to-end tests that run the issuer and the
// validating client together through the HTTP surface.
package integration
