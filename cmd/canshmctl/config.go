package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
	flag "github.com/spf13/pflag"

	"github.com/beerboy/can-shm/pkg/canshm"
)

// regionConfig is the JSON-with-comments region config file shape,
// grounded on the teacher's root config.go / hujson.Standardize use.
type regionConfig struct {
	Path        string `json:"path,omitempty"`
	BucketCount uint32 `json:"bucket_count,omitempty"` //nolint:tagliatelle
	PerfectHash bool   `json:"perfect_hash,omitempty"` //nolint:tagliatelle
}

func (c regionConfig) toOptions() canshm.Options {
	variant := canshm.VariantLinearProbing
	if c.PerfectHash {
		variant = canshm.VariantPerfectHash
	}
	return canshm.Options{
		Path:            c.Path,
		BucketCount:     c.BucketCount,
		Variant:         variant,
		CreateIfMissing: true,
	}
}

// loadConfig merges a --config hujson file (if given) with --path,
// --buckets and --perfect-hash flags; flags take precedence when
// explicitly set.
func loadConfig(fs *flag.FlagSet) (regionConfig, error) {
	cfg := regionConfig{BucketCount: canshm.DefaultBucketCount}

	if path, _ := fs.GetString("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return regionConfig{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return regionConfig{}, fmt.Errorf("invalid jsonc in %s: %w", path, err)
		}
		if err := json.Unmarshal(standardized, &cfg); err != nil {
			return regionConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if p, _ := fs.GetString("path"); fs.Changed("path") || cfg.Path == "" {
		cfg.Path = p
	}
	if b, _ := fs.GetUint32("buckets"); fs.Changed("buckets") || cfg.BucketCount == 0 {
		cfg.BucketCount = b
	}
	if ph, _ := fs.GetBool("perfect-hash"); fs.Changed("perfect-hash") {
		cfg.PerfectHash = ph
	}

	return cfg, nil
}
