// Package server hosts the account API behind a single HTTP multiplexer.
//
// The server builds a consistent middleware chain of auth, rate limiting,
// metrics, audit, security headers, CORS, request IDs, and logging so the
// account handlers all share common protections and instrumentation.
package server
