// Package server exposes the api.Service over HTTP using gin.
//
// Routes live under /api. Failures are written as {"error", "kind"} with the
// status code derived from the error kind, so clients can branch on kind
// without parsing messages. When a bearer token is configured every route
// except /api/health requires it.
package server
