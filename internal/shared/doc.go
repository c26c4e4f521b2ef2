// Package shared groups helpers used across licensekit packages. Its testutil
// subpackage provides scripted hardware probers, shared RSA test keys and
// slog capture for tests.
package shared
