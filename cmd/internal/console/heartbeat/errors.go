package heartbeat

import "errors"

var (
	// ErrSessionEnded is returned by an Authority when the server no longer
	// accepts the session. It is terminal.
	ErrSessionEnded = errors.New("session ended")

	// ErrLoggedOut is returned by Tick once the monitor has logged out.
	ErrLoggedOut = errors.New("monitor logged out")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid heartbeat config")
)
