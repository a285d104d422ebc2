package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/recera/fiberflow/internal/cache"
	"github.com/recera/fiberflow/pkg/livesched"
	"github.com/recera/fiberflow/pkg/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve <workload.yaml>",
		Short: "Run a workload and serve its live snapshot feed over websocket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveWorkload(args[0], addr)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "address to listen on")
	return cmd
}

func serveWorkload(path, addr string) error {
	buildCache, err := cache.New(cache.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fiberctl: cache unavailable: %v\n", err)
	}

	doc, fibers, err := loadWorkload(path, buildCache)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.DefaultOptions())
	sched.SetErrorHandler(func(f *scheduler.Fiber, err error) {
		fmt.Fprintf(os.Stderr, "fiberctl: fiber %d faulted: %v\n", f.FiberID(), err)
	})
	for _, spec := range doc.Fibers {
		if err := fibers[spec.Name].Start(sched); err != nil {
			return fmt.Errorf("fiberctl: start %q: %w", spec.Name, err)
		}
	}

	live := livesched.NewServer(sched, 200*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/fibers/live/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/fibers/live/")
		if id == "" {
			id = "default"
		}
		live.HandleWebSocket(w, r, id)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ready=%d sleeping=%d total=%d viewers=%d\n",
			sched.Snapshot().ReadyCount, sched.Snapshot().SleepCount, sched.Snapshot().TotalFibers, live.SessionCount())
	})

	httpSrv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		schedStop := make(chan struct{})
		go func() {
			<-gctx.Done()
			close(schedStop)
		}()
		sched.Run(schedStop)
		return nil
	})

	group.Go(func() error {
		liveStop := make(chan struct{})
		go func() {
			<-gctx.Done()
			close(liveStop)
		}()
		live.Run(liveStop)
		return nil
	})

	group.Go(func() error {
		fmt.Printf("fiberctl: serving %q on %s\n", doc.Name, addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
