package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/avadhan/engine"
	"github.com/becomeliminal/avadhan/stream"
)

var (
	serveProjects []string
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Train projects continuously and stream their events",
	Long: `Train one engine per project on synthetic input and publish every engine
event over a websocket at /events?project=<id>.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringSliceVarP(&serveProjects, "project", "p", []string{"demo"}, "Projects to run")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", time.Second, "Delay between training steps")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	enc, err := newEncoder(cfg)
	if err != nil {
		return err
	}

	hub := stream.NewHub()
	defer hub.Close()
	svc, err := newService(cfg, enc, engine.WithListener(hub.Publish))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, id := range serveProjects {
		if _, err := svc.CreateEngine(id, cfg.Engine); err != nil {
			return err
		}
		if _, err := svc.StartTraining(id); err != nil {
			return err
		}
		go trainLoop(ctx, svc, id)
	}

	mux := http.NewServeMux()
	mux.Handle("/events", hub)
	server := &http.Server{Addr: cfg.Server.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[STREAM] Listening on %s", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStderr(), "\nInterrupted. Shutting down...")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	for _, id := range serveProjects {
		if _, err := svc.StopTraining(id); err != nil {
			log.Printf("[SERVICE] Stop %s: %v", id, err)
		}
	}
	return server.Shutdown(shutdownCtx)
}

func trainLoop(ctx context.Context, svc *engine.Service, projectID string) {
	ticker := time.NewTicker(serveInterval)
	defer ticker.Stop()
	for epoch := 0; ; epoch++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := svc.TrainingStep(ctx, projectID, syntheticBatch(epoch, 4, 12)); err != nil {
			log.Printf("[SERVICE] Project %s stopped training: %v", projectID, err)
			return
		}
	}
}
