// conf/utils.go config path helpers
package conf

import (
	"os"
	"path/filepath"

	"github.com/drawee/drawee-go/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// If one of them already holds a config.yaml, only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	configPaths := []string{
		filepath.Join(homeDir, ".config", "drawee"),
		"/etc/drawee",
		".",
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// FindConfigFile locates an existing configuration file.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Component("configuration").
		Category(errors.CategoryNotFound).
		Context("operation", "find-config-file").
		Build()
}
