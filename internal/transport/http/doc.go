// Package http holds the HTTP handlers of the license service. Handlers parse
// the request, call a service and render the result; errors are rendered as
// RFC 7807 problem details through renderError.
//
// Client side, mounted at /api/license:
//
//	GET  /status[?verbose=true]
//	GET  /fingerprint[?refresh=true]
//	POST /invalidate-cache
//
// Issuer side, mounted at /api/registry when issuing is enabled:
//
//	GET  /licenses[?client=&type=&active=&revoked=]
//	POST /licenses
//	GET  /licenses/{id}
//	POST /licenses/{id}/revoke
//	GET  /blacklist
//	GET  /stats
//	GET  /export?format=csv|xlsx
package http
