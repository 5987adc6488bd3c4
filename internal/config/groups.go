package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/qsyscore/eventcached/internal/eventcache"
)

// GroupBootstrap is one entry in groups.yaml: a named change-group's
// startup overrides and initial enabled state (§4 SUPPLEMENTED FEATURES).
type GroupBootstrap struct {
	GroupID  string `yaml:"group_id"`
	Priority string `yaml:"priority"` // "low" | "normal" | "high"
	MaxEvents *int  `yaml:"max_events,omitempty"`
	MaxAgeMs  *int64 `yaml:"max_age_ms,omitempty"`
	Enabled  *bool  `yaml:"enabled,omitempty"`
}

// LoadGroupsFile parses a groups.yaml bootstrap file.
func LoadGroupsFile(path string) ([]GroupBootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read groups file: %w", err)
	}
	var entries []GroupBootstrap
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse groups file: %w", err)
	}
	return entries, nil
}

// ApplyGroupBootstrap applies each entry's overrides and enabled state to
// mgr, in file order. An unrecognized Priority string leaves the group at
// its manager-assigned default (normal).
func ApplyGroupBootstrap(mgr *eventcache.Manager, entries []GroupBootstrap) {
	for _, e := range entries {
		overrides := eventcache.GroupOverrides{
			MaxEvents: e.MaxEvents,
			MaxAgeMs:  e.MaxAgeMs,
		}
		if p, ok := parsePriority(e.Priority); ok {
			overrides.Priority = &p
		}
		mgr.ConfigureGroup(e.GroupID, overrides)

		if e.Enabled != nil && !*e.Enabled {
			mgr.DisableGroup(e.GroupID)
		}
	}
}

func parsePriority(s string) (eventcache.Priority, bool) {
	switch s {
	case "low":
		return eventcache.PriorityLow, true
	case "high":
		return eventcache.PriorityHigh, true
	case "normal":
		return eventcache.PriorityNormal, true
	default:
		return eventcache.PriorityNormal, false
	}
}
