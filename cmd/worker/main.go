package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yungbote/rewatch-backend/internal/app"
)

func main() {
	_ = godotenv.Load() // loads .env

	// This binary is the worker role; shared env files cannot flip it.
	os.Setenv("RUN_SERVER", "false")
	os.Setenv("RUN_WORKER", "true")

	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init worker: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()
	a.Log.Info("Worker running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	a.Log.Info("Worker shutting down", "signal", sig.String())
}
