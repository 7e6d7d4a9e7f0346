// Package common contains shared constants and sentinel errors used across
// storeauth components.
package common

// ServiceTokenHeaderName is the gRPC metadata key carrying the service JWT
// presented by internal callers of the auth-check API.
const ServiceTokenHeaderName = "authorization"

// RequestIDHeaderName is the gRPC metadata key used to correlate a call
// with audit entries and log lines.
const RequestIDHeaderName = "x-request-id"
