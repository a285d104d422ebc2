// Package workload implements a small YAML DSL that compiles to ordinary
// scheduler fibers — tooling for fiberctl, not part of the core's public
// contract. Grounded on cmd/vango/internal/config's gopkg.in/yaml.v3
// project-config loading, generalized from "vango.yaml project settings"
// to "a set of named fibers and their steps".
package workload

// Doc is the top-level shape of a workload YAML file.
type Doc struct {
	Name   string      `yaml:"name"`
	Fibers []FiberSpec `yaml:"fibers"`
}

// FiberSpec describes one fiber as a flat list of steps, run in order.
type FiberSpec struct {
	Name  string     `yaml:"name"`
	Steps []StepSpec `yaml:"steps"`
}

// StepSpec is one step of a fiber's program. Exactly one field should be
// set; an entirely empty StepSpec behaves like Step (yield and
// continue).
type StepSpec struct {
	// Step is a plain yield-and-continue marker (e.g. "step: {}").
	Step *struct{} `yaml:"step,omitempty"`
	// Sleep parks the fiber for the given duration ("100ms", "2s").
	Sleep string `yaml:"sleep,omitempty"`
	// Spawn starts another fiber named elsewhere in the same document,
	// if it has not already been started, without waiting for it.
	Spawn string `yaml:"spawn,omitempty"`
	// Wait parks this fiber until the named fiber completes.
	Wait string `yaml:"wait,omitempty"`
	// Result ends the fiber, latching this value as its result.
	Result any `yaml:"result,omitempty"`
}
