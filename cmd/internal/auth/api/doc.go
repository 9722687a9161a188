// Package authapi is the HTTP surface of the session and access-control
// coordinator: login, heartbeat, logout, CSRF rotation, bearer tokens,
// operator health checks and admin revocation.
//
// Every route runs the same guard pipeline: method check, per-IP rate limit
// for the route's action, authentication (session cookie or bearer token),
// role gate, CSRF validation for mutating routes.
package authapi
