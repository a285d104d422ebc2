package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/recera/fiberflow/internal/cache"
	"github.com/recera/fiberflow/internal/tui"
	"github.com/recera/fiberflow/pkg/scheduler"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var watchDashboard bool
	var entrypoints []string

	cmd := &cobra.Command{
		Use:   "run <workload.yaml>",
		Short: "Compile a workload document and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload(args[0], entrypoints, watchDashboard)
		},
	}

	cmd.Flags().BoolVarP(&watchDashboard, "watch", "w", false, "show a live TUI dashboard while the workload runs")
	cmd.Flags().StringSliceVarP(&entrypoints, "fiber", "f", nil, "fiber names to start (default: every fiber in the document)")

	return cmd
}

func runWorkload(path string, entrypoints []string, dashboard bool) error {
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

	starting := entrypoints
	if len(starting) == 0 {
		for _, spec := range doc.Fibers {
			starting = append(starting, spec.Name)
		}
	}
	for _, name := range starting {
		f, ok := fibers[name]
		if !ok {
			return fmt.Errorf("fiberctl: no fiber named %q in %s", name, path)
		}
		if err := f.Start(sched); err != nil {
			return fmt.Errorf("fiberctl: start %q: %w", name, err)
		}
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	done := make(chan struct{})
	go func() {
		sched.Run(stop)
		close(done)
	}()

	if dashboard {
		model := tui.NewModel(doc.Name, sched)
		p := tea.NewProgram(model)
		go func() {
			<-done
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("fiberctl: dashboard: %w", err)
		}
		close(stop)
		<-done
		return nil
	}

	go waitForAllFibers(sched, fibers, starting, func() { close(stop) })
	<-done
	return nil
}

// waitForAllFibers closes stop once every started fiber has completed, so
// a plain `fiberctl run` without --watch exits instead of idling forever.
func waitForAllFibers(sched *scheduler.Scheduler, fibers map[string]*scheduler.Fiber, names []string, stop func()) {
	for {
		allDone := true
		for _, name := range names {
			if f, ok := fibers[name]; ok && !f.Status().IsCompleted() {
				allDone = false
				break
			}
		}
		if allDone {
			stop()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
