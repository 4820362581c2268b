package scraper

import (
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

//go:embed selectors.json
var embeddedSelectors embed.FS

// LoadConfig tries to load selectors in the following order:
// 1. External file defined by SELECTORS_CONFIG_PATH (or default "config/selectors.json")
// 2. Embedded selectors.json
// 3. Hardcoded defaults
//
// The external file wins so a markup change on the forum can be patched
// without a rebuild.
func LoadConfig() SelectorConfig {
	configPath := os.Getenv("SELECTORS_CONFIG_PATH")
	if configPath == "" {
		configPath = "config/selectors.json"
	}
	if fileSel, err := LoadSelectors(configPath); err == nil {
		slog.Info("Loaded selectors from external file", "path", configPath)
		return fileSel
	} else if !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load external selectors, trying embedded config", "path", configPath, "error", err)
	}

	data, err := embeddedSelectors.ReadFile("selectors.json")
	if err == nil {
		sel, parseErr := LoadSelectorsFromBytes(data)
		if parseErr == nil {
			slog.Debug("Loaded selectors from embedded config.")
			return sel
		}
		slog.Warn("Embedded selectors failed to parse. Using defaults.", "error", parseErr)
	}

	slog.Info("Using hardcoded default selectors")
	return DefaultSelectors()
}

