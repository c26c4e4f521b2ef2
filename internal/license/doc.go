// Package license implements the signed license artifact: the tier table, the
// versioned canonical payload, the issuer-side Signer and the client-side
// Validator.
//
// The canonical payload is the wire contract between issuer and client. For
// version "1.0" it is the RFC 8785 serialization of
//
//	{client, licenseType, hardwareId, expires, version, issuedAt, features, maxUsers}
//
// with absent fields dropped. Changing any of it breaks every signature already
// in the field, so new layouts get a new version and a new canonicalizer.
//
// The Validator runs the stages
//
//	parse_file -> verify_signature -> check_expiry -> check_hardware ->
//	check_blacklist -> check_registry
//
// and reports the first failing stage. Verbose mode keeps going and collects a
// per-stage summary without changing the final status.
package license
