package router

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/joshsymonds/remediator/internal/storage"
	"github.com/joshsymonds/remediator/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Parse decodes a rule table. Keys ending in .yaml or .yml are YAML, anything else JSON.
func Parse(key string, data []byte) (*RuleTable, error) {
	var table RuleTable
	switch strings.ToLower(path.Ext(key)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("parsing YAML rule table: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("parsing JSON rule table: %w", err)
		}
	}
	return &table, nil
}

// Load fetches and parses the rule table at bucket/key. On any failure it logs a warning and
// returns an empty table whose default policy is fallback, so routing still has a destination.
func Load(ctx context.Context, store storage.ObjectStore, bucket, key, fallback string, log logger.Logger) *RuleTable {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	table, err := LoadStrict(ctx, store, bucket, key)
	if err != nil {
		log.Warn("Failed to load policy mappings, using default policy only",
			"bucket", bucket,
			"key", key,
			"default_policy", fallback,
			"error", err)
		return &RuleTable{DefaultPolicy: fallback}
	}
	log.Info("Loaded policy mappings", "bucket", bucket, "key", key, "rules", len(table.Mappings))
	return table
}

// LoadStrict is Load without the fallback.
func LoadStrict(ctx context.Context, store storage.ObjectStore, bucket, key string) (*RuleTable, error) {
	data, err := store.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return Parse(key, data)
}
