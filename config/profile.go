package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProfileHosted = "hosted"
	ProfileLocal  = "local"
)

// Profile holds the deployment-dependent limits of the conversion workflow.
type Profile struct {
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
	WarnPercent    float64       `yaml:"memory_warn_percent"`
	AbortPercent   float64       `yaml:"memory_abort_percent"` // 0 disables the abort
	ConvertTimeout time.Duration `yaml:"convert_timeout"`
}

// ProfileFile is the on-disk layout of the optional profiles YAML file.
// Entries stay undecoded until they can be laid over their defaults.
type ProfileFile struct {
	Profiles map[string]yaml.Node `yaml:"profiles"`
}

// DefaultProfiles returns the built-in profiles: a memory-constrained hosted
// container and an unconstrained local install.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		ProfileHosted: {
			MaxUploadMB:    10,
			WarnPercent:    85,
			AbortPercent:   70,
			ConvertTimeout: 300 * time.Second,
		},
		ProfileLocal: {
			MaxUploadMB:    200,
			WarnPercent:    85,
			AbortPercent:   0,
			ConvertTimeout: 300 * time.Second,
		},
	}
}

// LoadProfiles reads profiles from path and layers them over the defaults.
// Fields absent from the file keep their default value; an explicit zero
// such as memory_abort_percent: 0 is kept.
func LoadProfiles(path string) (map[string]Profile, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var file ProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	for name, node := range file.Profiles {
		base := profiles[name]
		if err := node.Decode(&base); err != nil {
			return nil, fmt.Errorf("failed to parse profile %s: %w", name, err)
		}
		profiles[name] = base
	}

	return profiles, nil
}

// ResolveProfile picks the named profile, falling back to local.
func ResolveProfile(profiles map[string]Profile, name string) (Profile, error) {
	if name == "" {
		name = ProfileLocal
	}
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown deployment profile: %s", name)
	}
	return p, nil
}
