package storage

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jwebster45206/gm-engine/pkg/preset"
)

// LoadPresets reads every YAML file under dataDir/presets into a catalog.
// Files that fail to parse are skipped with a warning.
func LoadPresets(dataDir string, logger *slog.Logger) (*preset.Catalog, error) {
	if dataDir == "" {
		dataDir = "./data"
	}
	dir := filepath.Join(dataDir, "presets")
	catalog := preset.NewCatalog()

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		logger.Warn("Presets directory not found", "path", dir)
		return catalog, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Failed to read preset file", "path", path, "error", err)
			continue
		}
		f, err := preset.Parse(data)
		if err != nil {
			logger.Warn("Failed to parse preset file", "path", path, "error", err)
			continue
		}
		if err := catalog.Add(f); err != nil {
			logger.Warn("Invalid preset file", "path", path, "error", err)
			continue
		}
	}
	logger.Debug("Presets loaded", "files", len(files), "worlds", len(catalog.Worlds()))
	return catalog, nil
}
