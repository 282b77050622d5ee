package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

const (
	// SectionIDRun is the identifier for the run settings section.
	SectionIDRun = "run"

	defaultRatePerDayCents = 4800
)

// RunSettings is the immutable snapshot the engine reads at run start.
type RunSettings struct {
	// Start and End bound the requested billing period, formatted
	// 2006-01-02.
	Start string
	End   string

	// RatePerDayCents is the daily rate in cents.
	RatePerDayCents int64

	// SkipNames lists record names excluded from the run. Entries may be
	// exact names or glob patterns ("Muster*").
	SkipNames []string

	// Filter narrows the scraped list to matching record names. Empty
	// matches everything. Glob syntax; a plain substring also works.
	Filter string

	// BackendURL is the attestation document backend.
	BackendURL string

	// ProfilePath points at the vendor UI selector profile (YAML).
	ProfilePath string

	// Upload and Billing toggle the two per-item side effects.
	Upload  bool
	Billing bool
}

// RunSection manages the run settings section of the config store.
type RunSection struct {
	mu       sync.RWMutex
	settings RunSettings
}

// NewRunSection creates a run section with defaults.
func NewRunSection() *RunSection {
	return &RunSection{
		settings: RunSettings{
			RatePerDayCents: defaultRatePerDayCents,
			Upload:          true,
			Billing:         true,
		},
	}
}

// ID returns the section identifier.
func (s *RunSection) ID() string {
	return SectionIDRun
}

// Settings returns a copy of the current settings.
func (s *RunSection) Settings() RunSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings := s.settings
	settings.SkipNames = append([]string(nil), s.settings.SkipNames...)
	return settings
}

// Data returns the current configuration data for persistence.
func (s *RunSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skips := make([]interface{}, len(s.settings.SkipNames))
	for i, n := range s.settings.SkipNames {
		skips[i] = n
	}
	return map[string]interface{}{
		"start":        s.settings.Start,
		"end":          s.settings.End,
		"rate_per_day": float64(s.settings.RatePerDayCents),
		"skip_names":   skips,
		"filter":       s.settings.Filter,
		"backend_url":  s.settings.BackendURL,
		"profile_path": s.settings.ProfilePath,
		"upload":       s.settings.Upload,
		"billing":      s.settings.Billing,
	}
}

// SetData updates the section from persisted data. Unknown keys are
// ignored; wrong types are errors.
func (s *RunSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		switch key {
		case "start":
			v, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value type for start: expected string, got %T", value)
			}
			s.settings.Start = v
		case "end":
			v, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value type for end: expected string, got %T", value)
			}
			s.settings.End = v
		case "rate_per_day":
			v, ok := value.(float64)
			if !ok {
				return fmt.Errorf("invalid value type for rate_per_day: expected number, got %T", value)
			}
			s.settings.RatePerDayCents = int64(v)
		case "skip_names":
			list, ok := value.([]interface{})
			if !ok {
				return fmt.Errorf("invalid value type for skip_names: expected list, got %T", value)
			}
			names := make([]string, 0, len(list))
			for _, entry := range list {
				name, ok := entry.(string)
				if !ok {
					return fmt.Errorf("invalid skip_names entry: expected string, got %T", entry)
				}
				names = append(names, name)
			}
			s.settings.SkipNames = names
		case "filter":
			v, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value type for filter: expected string, got %T", value)
			}
			s.settings.Filter = v
		case "backend_url":
			v, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value type for backend_url: expected string, got %T", value)
			}
			s.settings.BackendURL = v
		case "profile_path":
			v, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value type for profile_path: expected string, got %T", value)
			}
			s.settings.ProfilePath = v
		case "upload":
			v, ok := value.(bool)
			if !ok {
				return fmt.Errorf("invalid value type for upload: expected bool, got %T", value)
			}
			s.settings.Upload = v
		case "billing":
			v, ok := value.(bool)
			if !ok {
				return fmt.Errorf("invalid value type for billing: expected bool, got %T", value)
			}
			s.settings.Billing = v
		}
	}
	return nil
}

// LoadFrom populates the section from a store.
func (s *RunSection) LoadFrom(store Store) error {
	data, err := store.GetSection(SectionIDRun)
	if err != nil {
		return err
	}
	return s.SetData(data)
}

// SaveTo persists the section into a store.
func (s *RunSection) SaveTo(store Store) error {
	return store.SetSection(SectionIDRun, s.Data())
}

// SkipMatcher compiles the skip list into a match function. Invalid glob
// patterns fall back to exact comparison.
func (s RunSettings) SkipMatcher() func(name string) bool {
	type matcher struct {
		exact string
		g     glob.Glob
	}
	matchers := make([]matcher, 0, len(s.SkipNames))
	for _, pattern := range s.SkipNames {
		if g, err := glob.Compile(pattern); err == nil && strings.ContainsAny(pattern, "*?[") {
			matchers = append(matchers, matcher{g: g})
		} else {
			matchers = append(matchers, matcher{exact: pattern})
		}
	}
	return func(name string) bool {
		for _, m := range matchers {
			if m.g != nil {
				if m.g.Match(name) {
					return true
				}
			} else if m.exact == name {
				return true
			}
		}
		return false
	}
}

// FilterMatcher compiles the search filter. An empty filter matches all
// names; a pattern without glob metacharacters matches as a case-insensitive
// substring.
func (s RunSettings) FilterMatcher() func(name string) bool {
	if s.Filter == "" {
		return func(string) bool { return true }
	}
	if strings.ContainsAny(s.Filter, "*?[") {
		if g, err := glob.Compile(s.Filter); err == nil {
			return g.Match
		}
	}
	needle := strings.ToLower(s.Filter)
	return func(name string) bool {
		return strings.Contains(strings.ToLower(name), needle)
	}
}
