// Package adapter implements nested.RequestResponse over net/http.
//
// The request body is turned into a demand-driven Source: nothing is read
// until the embedded engine asks for it, and at most one chunk is held at a
// time. Input layers the readiness contract on top of a Source. Output turns
// the blocking http.ResponseWriter into asynchronous, single-writer writes
// whose completion is reported to a write listener or callback.
package adapter
