// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers use these helpers instead of writing raw http.ResponseWriter
// calls so that every endpoint returns the same JSON error envelope and
// internal error text never reaches a client.
package httputil
