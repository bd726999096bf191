package config

import (
	"fmt"

	"logcore/pkg/errors"
)

// Validate checks the structural invariants a pipeline description must
// satisfy before anything is wired: unique names, every source's fan-out
// list resolving to a real destination, and each destination's backoff
// options being internally consistent (delegated to backoff.Options.
// Validate, the same check internal/destination.Init performs, so a bad
// config fails at load time instead of on the first delivery attempt).
func Validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return errors.Config("config.Validate", "at least one source is required")
	}
	if len(cfg.Destinations) == 0 {
		return errors.Config("config.Validate", "at least one destination is required")
	}

	destNames := make(map[string]bool, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		if d.Name == "" {
			return errors.Config("config.Validate", "destination with an empty name")
		}
		if destNames[d.Name] {
			return errors.Config("config.Validate", fmt.Sprintf("duplicate destination name %q", d.Name))
		}
		destNames[d.Name] = true
		if err := d.Backoff.Validate(); err != nil {
			return errors.Config("config.Validate", fmt.Sprintf("destination %q backoff", d.Name)).Wrap(err)
		}
	}

	srcNames := make(map[string]bool, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if s.Name == "" {
			return errors.Config("config.Validate", "source with an empty name")
		}
		if srcNames[s.Name] {
			return errors.Config("config.Validate", fmt.Sprintf("duplicate source name %q", s.Name))
		}
		srcNames[s.Name] = true
		if len(s.Destinations) == 0 {
			return errors.Config("config.Validate", fmt.Sprintf("source %q has no destinations", s.Name))
		}
		for _, dn := range s.Destinations {
			if !destNames[dn] {
				return errors.Config("config.Validate", fmt.Sprintf("source %q references unknown destination %q", s.Name, dn))
			}
		}
	}

	return nil
}
