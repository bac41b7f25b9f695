// Package auth provides optional bearer-token authentication for the HTTP
// API. Tokens are HS256-signed JWTs carrying the viewer identity in the
// "sub" claim. When no jwt_secret is configured the API runs open, which is
// the expected mode for localhost deployments.
package auth
