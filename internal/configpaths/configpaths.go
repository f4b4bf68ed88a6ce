// Package configpaths resolves where xhcid configuration files live.
package configpaths

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "xhcid"), nil
}

// ConfigCandidatePaths returns config file candidates grouped by format,
// lowest priority first. A user-supplied path is appended to its
// format's list so it overrides the defaults.
func ConfigCandidatePaths(userCfg string) (jsonPaths, yamlPaths, tomlPaths []string) {
	var dirs []string
	if d, err := DefaultConfigDir(); err == nil {
		dirs = append(dirs, d)
	}
	dirs = append(dirs, ".")

	for _, d := range dirs {
		jsonPaths = append(jsonPaths, filepath.Join(d, "xhcid.json"))
		yamlPaths = append(yamlPaths,
			filepath.Join(d, "xhcid.yaml"),
			filepath.Join(d, "xhcid.yml"))
		tomlPaths = append(tomlPaths, filepath.Join(d, "xhcid.toml"))
	}

	if userCfg != "" {
		switch strings.ToLower(filepath.Ext(userCfg)) {
		case ".yaml", ".yml":
			yamlPaths = append(yamlPaths, userCfg)
		case ".toml":
			tomlPaths = append(tomlPaths, userCfg)
		default:
			jsonPaths = append(jsonPaths, userCfg)
		}
	}
	return jsonPaths, yamlPaths, tomlPaths
}
