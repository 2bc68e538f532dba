package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// InitializeDefaults writes a settings file with every default value to path.
// An existing file is left untouched.
func InitializeDefaults(path string) (bool, error) {
	if path == "" {
		path = filepath.Join(".stak", "settings.yaml")
	}

	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create settings directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	applyDefaults(v)

	if err := v.SafeWriteConfigAs(path); err != nil {
		return false, fmt.Errorf("failed to write default configuration: %w", err)
	}

	return true, nil
}
