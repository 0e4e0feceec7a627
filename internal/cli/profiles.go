package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
)

// Profiles represents the connection profiles file.
type Profiles struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile is one named destination plus output preferences.
type Profile struct {
	clickhouse.ConnectionConfig `yaml:",inline"`
	Output                      string `yaml:"output,omitempty"`
}

// Active returns the profile named by override, or the current profile
// when override is empty. Naming a missing profile is an error; a missing
// current profile is not.
func (p *Profiles) Active(override string) (Profile, error) {
	if override != "" {
		prof, ok := p.Profiles[override]
		if !ok {
			return Profile{}, fmt.Errorf("profile %q not found", override)
		}
		return prof, nil
	}
	return p.Profiles[p.CurrentProfile], nil
}

// Names returns the profile names in sorted order.
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.Profiles))
	for name := range p.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProfilesPath returns $CHXFER_PROFILES, or ~/.chxfer/profiles.yaml.
func DefaultProfilesPath() string {
	if p := os.Getenv("CHXFER_PROFILES"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "profiles.yaml"
	}
	return filepath.Join(home, ".chxfer", "profiles.yaml")
}

// LoadProfiles reads a profiles file. A missing file is reported with an
// error wrapping fs.ErrNotExist.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	if p.Profiles == nil {
		p.Profiles = map[string]Profile{}
	}
	return &p, nil
}

// SaveProfiles writes p to path, creating the directory if needed. The
// file holds credentials, so it is only readable by the owner.
func SaveProfiles(path string, p *Profiles) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create profiles dir: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
