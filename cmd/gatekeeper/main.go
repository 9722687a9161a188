package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var (
	version = "dev"
	cli     struct {
		Serve        ServeCmd        `cmd:"" default:"1" help:"Run the gatekeeper server."`
		HashPassword HashPasswordCmd `cmd:"" help:"Hash a password read from stdin for GK_ADMIN_USERS."`
		Console      ConsoleCmd      `cmd:"" help:"Log in and keep a session alive from this terminal."`
		Smoke        SmokeCmd        `cmd:"" help:"Check login, heartbeat and termination push against a running server."`
		Version      kong.VersionFlag
	}
)

func main() {
	if err := loadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "gatekeeper:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("gatekeeper"),
		kong.Description("Session and access-control coordinator."),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := cmd.Run()
	cmd.FatalIfErrorf(err)
}

// loadDotEnv reads GK_ENV_FILE (default .env) into the environment before
// flags are resolved. Variables already set win. A missing default file is fine.
func loadDotEnv() error {
	path, explicit := os.LookupEnv("GK_ENV_FILE")
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}
