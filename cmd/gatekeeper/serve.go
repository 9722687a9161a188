package main

import "gatekeeper/cmd/internal/app"

// ServeCmd runs the HTTP server. All settings come from GK_* variables.
type ServeCmd struct{}

func (ServeCmd) Run() error {
	return app.Run()
}
