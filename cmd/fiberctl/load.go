package main

import (
	"fmt"
	"os"

	"github.com/recera/fiberflow/internal/cache"
	"github.com/recera/fiberflow/pkg/scheduler"
	"github.com/recera/fiberflow/pkg/workload"
)

// loadWorkload parses and compiles the workload document at path. When c
// is non-nil the raw bytes are stored under a path+content key; a cache
// hit returns the same bytes, which are still parsed and compiled, so
// every call yields a fresh Doc and fresh fibers.
func loadWorkload(path string, c *cache.Cache) (*workload.Doc, map[string]*scheduler.Fiber, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("fiberctl: read %s: %w", path, err)
	}

	if c != nil {
		if cached, ok := c.GetDoc(path, data); ok {
			doc, err := workload.Parse(cached)
			if err == nil {
				fibers, err := workload.Compile(doc)
				if err == nil {
					return doc, fibers, nil
				}
			}
		}
	}

	doc, err := workload.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	fibers, err := workload.Compile(doc)
	if err != nil {
		return nil, nil, err
	}
	if c != nil {
		_ = c.PutDoc(path, data)
	}
	return doc, fibers, nil
}
