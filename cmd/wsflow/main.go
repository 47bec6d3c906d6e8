package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/app"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/cli"
)

// main is the entrypoint for the wsflow application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// Best effort; a missing .env file just means nothing to overlay.
	if err := godotenv.Load(); err == nil {
		slog.Debug("Environment overlaid from .env file.")
	}

	// The real main function handles errors and exit codes.
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling. Startup panics from app construction are recovered and returned
// as ordinary errors.
func run(outW io.Writer, args []string) (err error) {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application startup panicked: %v", r)
		}
	}()

	wsApp := app.NewApp(outW, appConfig)
	defer func() {
		if cerr := wsApp.Close(); cerr != nil {
			slog.Warn("Failed to close app cleanly.", "error", cerr)
		}
	}()

	// Interrupts cancel in-flight node runs, reverting them to idle.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return wsApp.Run(ctx)
}
