package config

import (
	"os"
	"strings"

	"github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"
)

// Credentials is the on-disk record left by the login flow. The file is
// usually JSON; YAML is accepted as well since JSON is a subset of it.
type Credentials struct {
	Token string         `yaml:"token"`
	Email string         `yaml:"email"`
	User  map[string]any `yaml:"user"`
}

func LoadCredentials(path string) (Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, errors.Wrapf(err, "read credentials file %q", path)
	}

	var creds Credentials
	if err := yaml.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, errors.Wrapf(err, "parse credentials file %q", path)
	}
	creds.Token = strings.TrimSpace(creds.Token)
	creds.Email = strings.ToLower(strings.TrimSpace(creds.Email))
	if creds.Token == "" {
		return Credentials{}, errors.Errorf("credentials file %q has no token", path)
	}
	return creds, nil
}
