package midas

import (
	"encoding/json"
	"fmt"
	"os"
)

// bytesPerMB converts the config file's size_mb units into the byte limits
// CreatePoolsFromConfig works in (spec §6 / SPEC_FULL.md §6).
const bytesPerMB = 1 << 20

// poolConfig is the on-disk shape consumed by LoadConfig: a flat map from
// pool name to its size in megabytes, the same shape spec §6 describes.
type poolConfig map[string]int

// LoadConfig reads a JSON file of the form {"pool-name": sizeMB, ...} and
// returns a map from pool name to byte limit, ready for
// CacheManager.CreatePoolsFromConfig.
func LoadConfig(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("midas: read config %q: %w", path, err)
	}

	var cfg poolConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("midas: parse config %q: %w", path, err)
	}

	out := make(map[string]int, len(cfg))
	for name, sizeMB := range cfg {
		if sizeMB < 0 {
			return nil, usageErrorf("LoadConfig", "pool %q has negative size %d", name, sizeMB)
		}
		out[name] = sizeMB * bytesPerMB
	}

	return out, nil
}
