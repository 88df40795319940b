package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/upb/model-control-plane/internal/fsutil"
	"github.com/upb/model-control-plane/models"
)

const cacheFileMode = 0o640

// Cache is the durable record of load parameters. Every save is a full rewrite.
type Cache struct {
	path string
}

// NewCache creates a cache backed by path, creating its directory if needed
func NewCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{path: path}, nil
}

// Path returns the cache file location
func (c *Cache) Path() string {
	return c.path
}

// Read returns the persisted records. A missing file is an empty cache.
func (c *Cache) Read() ([]models.CacheRecord, error) {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model cache: %w", err)
	}

	var entries []cacheEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode model cache: %w", err)
	}

	records := make([]models.CacheRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.record())
	}
	return records, nil
}

// Write replaces the cache with records
func (c *Cache) Write(records []models.CacheRecord) error {
	if records == nil {
		records = []models.CacheRecord{}
	}
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model cache: %w", err)
	}
	if err := fsutil.WriteFileAtomic(c.path, raw, cacheFileMode); err != nil {
		return fmt.Errorf("failed to write model cache: %w", err)
	}
	return nil
}

// cacheEntry also accepts the field names written by older deployments
type cacheEntry struct {
	models.CacheRecord

	ModelName           string                 `json:"model_name"`
	ModelFlavor         string                 `json:"model_flavor"`
	ModelVersionOrAlias interface{}            `json:"model_version_or_alias"`
	QuantizationKwargs  map[string]interface{} `json:"quantization_kwargs"`
	Kwargs              map[string]interface{} `json:"kwargs"`
}

func (e cacheEntry) record() models.CacheRecord {
	r := e.CacheRecord
	if r.Name == "" {
		r.Name = e.ModelName
	}
	if r.Flavor == "" && e.ModelFlavor != "" {
		if f, err := models.ParseFlavor(e.ModelFlavor); err == nil {
			r.Flavor = f
		} else {
			r.Flavor = models.Flavor(e.ModelFlavor)
		}
	}
	if r.VersionOrAlias == "" && e.ModelVersionOrAlias != nil {
		r.VersionOrAlias = fmt.Sprint(e.ModelVersionOrAlias)
	}
	if r.QuantizationParams == nil {
		r.QuantizationParams = e.QuantizationKwargs
	}
	if r.ExtraParams == nil {
		r.ExtraParams = e.Kwargs
	}
	return r
}
