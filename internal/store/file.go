package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Laisky/errors/v2"
)

// WriteJSONFile writes value as indented JSON, creating parent directories.
func WriteJSONFile(path string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func ReadJSONFile(path string, into any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
