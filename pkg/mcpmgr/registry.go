package mcpmgr

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Registry maps server IDs to their static configuration.
type Registry map[string]ServerConfig

// NewRegistry builds a Registry from a list of configs. Later duplicates
// replace earlier ones.
func NewRegistry(configs ...ServerConfig) Registry {
	r := make(Registry, len(configs))
	for _, cfg := range configs {
		r[cfg.ID] = cfg
	}
	return r
}

// IDs returns the registered server IDs in sorted order.
func (r Registry) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the config registered under id.
func (r Registry) Get(id string) (ServerConfig, bool) {
	cfg, ok := r[id]
	return cfg, ok
}

// AutoConnect returns the configs flagged for connection at initialization,
// ordered by ID.
func (r Registry) AutoConnect() []ServerConfig {
	var out []ServerConfig
	for _, id := range r.IDs() {
		if cfg := r[id]; cfg.AutoConnect {
			out = append(out, cfg)
		}
	}
	return out
}

// Validate reports every malformed entry.
func (r Registry) Validate() error {
	var errs []error
	for _, id := range r.IDs() {
		cfg := r[id]
		if cfg.ID != id {
			errs = append(errs, fmt.Errorf("mcpmgr: registry key %q does not match server id %q", id, cfg.ID))
			continue
		}
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks that the config can be used to spawn a provider.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("mcpmgr: server id is required")
	}
	if strings.TrimSpace(c.Process.Command) == "" {
		return fmt.Errorf("mcpmgr: command missing for %q", c.ID)
	}
	if slices.Contains(c.Process.Args, "") {
		return fmt.Errorf("mcpmgr: empty argument for %q", c.ID)
	}
	for k := range c.Process.Env {
		if k == "" || strings.Contains(k, "=") {
			return fmt.Errorf("mcpmgr: invalid environment key %q for %q", k, c.ID)
		}
	}
	return nil
}
