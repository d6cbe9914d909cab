// Package nested defines the surface an outer HTTP server exposes to an
// embedded engine: a request/response pair with an asynchronous,
// listener-driven read side and a readiness-driven write side.
//
// Implementations live in package adapter (net/http) and are consumed by the
// virtual connector in package connector.
package nested
