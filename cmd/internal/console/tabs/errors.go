package tabs

import "errors"

var (
	// ErrClosed is returned by Tick after CloseTab.
	ErrClosed = errors.New("tab closed")

	// ErrReadAfterWrite means the tab's own write was not visible on read-back.
	ErrReadAfterWrite = errors.New("own tab record not visible after write")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid tab coordinator config")
)
