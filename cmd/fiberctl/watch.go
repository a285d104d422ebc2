package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/recera/fiberflow/internal/cache"
	"github.com/recera/fiberflow/pkg/scheduler"
	"github.com/spf13/cobra"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <workload.yaml>",
		Short: "Recompile and restart a workload whenever its file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchWorkload(args[0])
		},
	}
	return cmd
}

func watchWorkload(path string) error {
	buildCache, err := cache.New(cache.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fiberctl: cache unavailable: %v\n", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fiberctl: file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("fiberctl: watch %s: %w", path, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	restart := make(chan struct{}, 1)
	restart <- struct{}{}

	var currentStop chan struct{}
	var currentDone chan struct{}

	stopCurrent := func() {
		if currentStop == nil {
			return
		}
		close(currentStop)
		<-currentDone
		currentStop, currentDone = nil, nil
	}
	defer stopCurrent()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()

	for {
		select {
		case <-sigCh:
			stopCurrent()
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(75 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "fiberctl: watcher error: %v\n", err)

		case <-debounce.C:
			restart <- struct{}{}

		case <-restart:
			stopCurrent()

			doc, fibers, err := loadWorkload(path, buildCache)
			if err != nil {
				fmt.Fprintf(os.Stderr, "fiberctl: %v\n", err)
				continue
			}
			fmt.Printf("fiberctl: running %q (%d fibers)\n", doc.Name, len(doc.Fibers))

			sched := scheduler.New(scheduler.DefaultOptions())
			sched.SetErrorHandler(func(f *scheduler.Fiber, err error) {
				fmt.Fprintf(os.Stderr, "fiberctl: fiber %d faulted: %v\n", f.FiberID(), err)
			})
			for _, spec := range doc.Fibers {
				if err := fibers[spec.Name].Start(sched); err != nil {
					fmt.Fprintf(os.Stderr, "fiberctl: start %q: %v\n", spec.Name, err)
				}
			}

			currentStop = make(chan struct{})
			currentDone = make(chan struct{})
			go func(stop chan struct{}, done chan struct{}) {
				sched.Run(stop)
				close(done)
			}(currentStop, currentDone)
		}
	}
}
