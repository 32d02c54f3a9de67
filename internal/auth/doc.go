// Package auth obtains and caches short-lived access tokens for the remote
// blob store.
//
// TokenManager exchanges a long-lived refresh token for an access token using
// the OAuth2 refresh grant, caches the result until shortly before expiry, and
// collapses concurrent refreshes into a single network call. Failures clear the
// cached token and surface as evalerr.ErrCredential.
package auth
