package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Template renders the default config as TOML.
func Template() (string, error) {
	raw, err := toml.Marshal(DefaultFile())
	if err != nil {
		return "", err
	}
	return templateHeader + string(raw), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const templateHeader = `# bandbridge config
# durations use Go syntax (250ms, 3s, 1m); "0s" disables idle_timeout and
# makes discovery_interval a single sweep at startup.
`
