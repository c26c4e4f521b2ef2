// Package performance holds benchmarks and load tests for signing,
// validation and the license status endpoint.
package performance
