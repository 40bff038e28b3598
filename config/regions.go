package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed regions.toml
var defaultRegions []byte

// DefaultRegionID is assigned to new subscribers.
const DefaultRegionID = 6

// Region is a geographic scope the marketplace partitions listings by.
type Region struct {
	ID   int    `toml:"id"`
	Slug string `toml:"slug"`
	Name string `toml:"name"`
}

type regionFile struct {
	Regions []Region `toml:"region"`
}

// LoadRegions decodes the region catalog from path, or the embedded default
// catalog when path is empty.
func LoadRegions(path string) ([]Region, error) {
	data := defaultRegions
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read regions file: %w", err)
		}
		data = raw
	}
	return parseRegions(data)
}

func parseRegions(data []byte) ([]Region, error) {
	var file regionFile
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("config: decode regions: %w", err)
	}

	seen := make(map[int]struct{}, len(file.Regions))
	for _, r := range file.Regions {
		if r.ID <= 0 {
			return nil, fmt.Errorf("config: region %q has invalid id %d", r.Slug, r.ID)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("config: duplicate region id %d", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return file.Regions, nil
}

// FilterRegions keeps only the regions whose ids appear in the comma-separated
// list, preserving the list's order.
func FilterRegions(all []Region, ids string) ([]Region, error) {
	byID := make(map[int]Region, len(all))
	for _, r := range all {
		byID[r.ID] = r
	}

	var out []Region
	for _, part := range strings.Split(ids, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("config: REGION_IDS entry %q: %w", part, err)
		}
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("config: REGION_IDS references unknown region %d", id)
		}
		out = append(out, r)
	}
	return out, nil
}
