package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
)

type secretsFile struct {
	APIKey     string `toml:"api_key"`
	OpenRouter struct {
		APIKey string `toml:"api_key"`
	} `toml:"openrouter"`
}

// LoadAPIKeyFromFile reads the provider API key from a TOML secrets file.
// A top-level api_key wins over [openrouter].api_key. A missing file or an
// empty path yields an empty key and no error.
func LoadAPIKeyFromFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	var secrets secretsFile
	if _, err := toml.DecodeFile(path, &secrets); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file %s: %w", path, err)
	}
	if key := strings.TrimSpace(secrets.APIKey); key != "" {
		return key, nil
	}
	return strings.TrimSpace(secrets.OpenRouter.APIKey), nil
}
