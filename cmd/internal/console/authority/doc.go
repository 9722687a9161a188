// Package authority is the console's HTTP client for the gatekeeper server.
//
// A Client logs in once, keeps the session cookie in its own jar and the CSRF
// token in memory, and implements heartbeat.Authority. Watch subscribes to the
// realtime channel so a server-side termination reaches the console without
// waiting for the next heartbeat.
package authority
