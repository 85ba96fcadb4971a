// Package common contains shared constants, sentinel errors and small helpers
// used across readkeeper components.
package common

// AuthorizationHeader carries the API token on outbound HTTP requests.
const AuthorizationHeader = "Authorization"

// BearerPrefix precedes the token value in AuthorizationHeader.
const BearerPrefix = "Bearer "

// UserAgent identifies the client to the remote bookmark service.
const UserAgent = "readkeeper"
