// Package heartbeat is the client-side liveness monitor of one session.
//
// Activity signals mark the session as in use. On every tick the monitor
// heartbeats if there was activity since the previous tick; otherwise idle time
// accumulates, and once it exceeds the inactivity limit the monitor terminates
// the session and moves to LoggedOut. Ticks come from a clock.Ticker so the
// state machine can be driven one step at a time.
package heartbeat
