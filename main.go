package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/etchlab/engravelink/api"
	"github.com/etchlab/engravelink/internal/config"
	"github.com/etchlab/engravelink/internal/eventlog"
	"github.com/etchlab/engravelink/internal/monitoring"
	"github.com/etchlab/engravelink/internal/statusbus"
	"github.com/etchlab/engravelink/internal/supervisor"
	"github.com/etchlab/engravelink/internal/transport"
	"github.com/etchlab/engravelink/internal/version"
)

var (
	configPath  = flag.String("config", "engravelink.yaml", "Path to the YAML configuration file")
	listen      = flag.String("listen", ":8080", "Listen address for the admin HTTP server")
	devMode     = flag.Bool("dev", false, "Run against a mock engraver instead of real hardware")
	interactive = flag.Bool("interactive", false, "Read commands from stdin")
)

// buildLink constructs the transport named by the configuration.
func buildLink(cfg config.Config) (transport.Link, error) {
	if cfg.Transport == config.TransportNetwork {
		return transport.NewTCPLink(cfg.DialAddr(), cfg.IOTimeout.Std(), cfg.IOTimeout.Std()), nil
	}
	mode, err := cfg.SerialMode()
	if err != nil {
		return nil, err
	}
	return transport.NewSerialLink(cfg.Device, mode, cfg.IOTimeout.Std()), nil
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	monitoring.SetLogger(log.Printf)
	log.Printf("engravelink %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	var cfg config.Config
	var err error
	if *devMode {
		// dev mode needs no config file; the device path is unused
		cfg, err = config.Config{Device: "mock"}.Normalize()
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	var store *eventlog.Store
	if cfg.EventLog != "" {
		store, err = eventlog.Open(cfg.EventLog)
		if err != nil {
			log.Fatalf("failed to open event log: %v", err)
		}
		defer store.Close()
	}

	var link transport.Link
	if *devMode {
		link = transport.NewMockLink()
	} else {
		link, err = buildLink(cfg)
		if err != nil {
			log.Fatalf("failed to build transport: %v", err)
		}
	}

	bus := statusbus.New()
	defer bus.Close()

	sup, err := supervisor.New(supervisor.Options{
		Link:             link,
		Bus:              bus,
		Log:              store,
		MaxBufferBytes:   cfg.MaxBufferBytes,
		RetryLimit:       cfg.RetryLimit,
		SuspendThreshold: cfg.SuspendThreshold,
		IOTimeout:        cfg.IOTimeout.Std(),
		Backoff: supervisor.BackoffPolicy{
			Initial: cfg.Backoff.Initial.Std(),
			Max:     cfg.Backoff.Max.Std(),
			Factor:  cfg.Backoff.Factor,
		},
	})
	if err != nil {
		log.Fatalf("failed to create supervisor: %v", err)
	}
	defer sup.Close()

	// Create a wait group for the HTTP server, status logger, and console
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the first connect happens at startup; failures are retried by the
	// supervisor's own reconnect machinery
	if err := sup.Connect(); err != nil {
		log.Printf("initial connect failed: %v", err)
	}

	// subscribe to the status bus and mirror state changes to the log
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := bus.Subscribe(statusbus.TopicConnectionState)
		defer bus.Unsubscribe(id)
		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				log.Printf("engraver link is %s: %s", ev.State, ev.Text)
			case <-ctx.Done():
				log.Printf("status logger terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		sup.AttachAdminRoutes(mux)

		// mount the REST API handlers
		apiMux := api.NewServer(sup, store).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	if *interactive {
		wg.Add(1)
		go func() {
			defer wg.Done()
			newConsole(sup).run(ctx, stop)
		}()
	}

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
