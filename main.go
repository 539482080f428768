package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pdellaert/fbw-installer/internal/api"
	"github.com/pdellaert/fbw-installer/internal/core"
	"github.com/pdellaert/fbw-installer/internal/jobs"
	"github.com/pdellaert/fbw-installer/internal/plugins"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()

	go app.WsHub().Run()

	// Apply every installed plugin to the configuration
	reload := func() {
		if err := app.ApplicationManager().ReloadFromDisk(app.InstallManager()); err != nil {
			log.Printf("Warning: failed to reload plugins: %v", err)
		}
	}
	reload()
	log.Printf("Loaded %d publishers from plugins in %s", len(app.ConfigStore().Publishers()), app.InstallManager().Root())

	// Re-apply plugins when another process (e.g. the CLI) changes them on disk
	watcher := plugins.NewWatcher(app.InstallManager().Root(), reload)
	if err := watcher.Start(); err != nil {
		log.Printf("Warning: failed to start plugin watcher: %v", err)
	} else {
		defer watcher.Stop()
	}

	scheduler := jobs.StartJobs(app)
	defer scheduler.Stop()

	// Setup the API server
	server := api.NewServer(app)
	addr := fmt.Sprintf(":%d", app.Config().Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}
	// --- Graceful Shutdown ---
	go func() {
		log.Printf("Starting web server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
