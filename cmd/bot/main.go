package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"kibot/internal/app"
	"kibot/internal/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.Parse()

	// .env files next to the config fill secrets the file leaves empty.
	if _, err := config.LoadDotEnv(filepath.Dir(cfgPath)); err != nil {
		fmt.Println("fatal: load .env:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		stop(a, app.StopFatalError)
		os.Exit(1)
	}

	// The app context derives from ctx, so Done also fires on a signal.
	<-a.Done()
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
		if err := a.Err(); err != nil {
			fmt.Println("fatal:", err)
		}
	}
	stop(a, reason)
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
}
