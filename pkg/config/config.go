// Package config holds the remote profile model and the profile registry.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// DefaultRegion is used when a profile does not specify one. Endpoint-style
// stores generally accept any region string.
const DefaultRegion = "auto"

// RemoteProfile describes one configured bucket endpoint. Profiles are
// immutable once loaded; edits produce a new profile that replaces the old
// one in the registry.
type RemoteProfile struct {
	Name            string `yaml:"-"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	BucketName      string `yaml:"bucket_name"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	// AwsProfile selects a shared AWS config profile instead of static
	// credentials.
	AwsProfile string `yaml:"awsprofile"`
}

// ErrInvalidProfile is returned for profiles that fail validation.
var ErrInvalidProfile = errors.New("invalid remote profile")

// Validate checks that the profile is usable. Credentials themselves are
// not verified against the store here.
func (p RemoteProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidProfile)
	}
	if p.BucketName == "" {
		return fmt.Errorf("%w: missing bucket_name for remote %q", ErrInvalidProfile, p.Name)
	}
	if (p.AccessKeyID == "") != (p.SecretAccessKey == "") {
		return fmt.Errorf("%w: remote %q must set both access_key_id and secret_access_key or neither",
			ErrInvalidProfile, p.Name)
	}
	if p.Endpoint != "" {
		u, err := url.Parse(p.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: remote %q has malformed endpoint %q", ErrInvalidProfile, p.Name, p.Endpoint)
		}
	}
	return nil
}

// WithDefaults returns a copy of the profile with defaulted fields filled in.
func (p RemoteProfile) WithDefaults() RemoteProfile {
	if p.Region == "" {
		p.Region = DefaultRegion
	}
	return p
}

// Config is the struct for the configuration file.
type Config struct {
	Remotes  map[string]RemoteProfile `yaml:"remotes"`
	LogLevel string                   `yaml:"loglevel"`
	// Background refresh sweep (see pkg/scheduler).
	EnableBackgroundRefresh bool   `yaml:"enablebackgroundrefresh"`
	RefreshCronSchedule     string `yaml:"refreshcronschedule"`
	FreshTTL                string `yaml:"freshttl"`
	// MaxConcurrentTransfers bounds simultaneously running transfer jobs.
	MaxConcurrentTransfers int `yaml:"maxconcurrenttransfers"`
}

// ReadYamlRemotesFile reads a yaml file and returns a Config struct. Remote
// names come from the map keys.
func ReadYamlRemotesFile(filename string) (Config, error) {
	var config Config

	yamlFile, err := os.ReadFile(filename)
	if err != nil {
		return config, fmt.Errorf("ReadYamlRemotesFile: error reading file: %w", err)
	}

	if err = yaml.Unmarshal(yamlFile, &config); err != nil {
		return config, fmt.Errorf("ReadYamlRemotesFile: error parsing yaml: %w", err)
	}
	for name, p := range config.Remotes {
		p.Name = strings.TrimSpace(name)
		config.Remotes[name] = p
	}
	return config, nil
}
