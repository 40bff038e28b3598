package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("SCAN_INTERVAL", "")
	t.Setenv("REGION_IDS", "")
	t.Setenv("REGIONS_FILE", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ScanInterval != 60*time.Second {
		t.Errorf("ScanInterval: got %v, want 60s", cfg.ScanInterval)
	}
	if cfg.RegionDelay != 3*time.Second {
		t.Errorf("RegionDelay: got %v, want 3s", cfg.RegionDelay)
	}
	if cfg.PriceFloor != 50_000_000 {
		t.Errorf("PriceFloor: got %d, want 50000000", cfg.PriceFloor)
	}
	if cfg.RetentionDays != 14 || cfg.Retention() != 14*24*time.Hour {
		t.Errorf("Retention: got %d days", cfg.RetentionDays)
	}
	if cfg.BenchmarkMinSamples != 3 {
		t.Errorf("BenchmarkMinSamples: got %d, want 3", cfg.BenchmarkMinSamples)
	}
	if cfg.Location == nil || cfg.Location.String() != "Asia/Tehran" {
		t.Errorf("Location: got %v", cfg.Location)
	}
	if len(cfg.Regions) == 0 {
		t.Error("expected embedded regions")
	}
	if _, ok := cfg.Region(DefaultRegionID); !ok {
		t.Errorf("default region %d missing from catalog", DefaultRegionID)
	}
}

func TestGetEnvDurationAcceptsSeconds(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "90")
	if got := getEnvDuration("SCAN_INTERVAL", time.Second); got != 90*time.Second {
		t.Errorf("bare seconds: got %v, want 90s", got)
	}
	t.Setenv("SCAN_INTERVAL", "2m")
	if got := getEnvDuration("SCAN_INTERVAL", time.Second); got != 2*time.Minute {
		t.Errorf("duration string: got %v, want 2m", got)
	}
	t.Setenv("SCAN_INTERVAL", "soon")
	if got := getEnvDuration("SCAN_INTERVAL", time.Second); got != time.Second {
		t.Errorf("invalid value: got %v, want fallback", got)
	}
}

func TestValidateRejectsUnorderedBands(t *testing.T) {
	t.Setenv("DEAL_HOT_PCT", "50")
	_, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "deal bands") {
		t.Fatalf("expected deal band error, got %v", err)
	}
}

func TestValidateRejectsInvertedJitter(t *testing.T) {
	t.Setenv("DETAIL_JITTER_MIN", "5s")
	t.Setenv("DETAIL_JITTER_MAX", "1s")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected jitter error")
	}
}

func TestFilterRegionsKeepsOrder(t *testing.T) {
	all, err := LoadRegions("")
	if err != nil {
		t.Fatalf("LoadRegions: %v", err)
	}
	got, err := FilterRegions(all, "6, 1")
	if err != nil {
		t.Fatalf("FilterRegions: %v", err)
	}
	if len(got) != 2 || got[0].ID != 6 || got[1].ID != 1 {
		t.Errorf("FilterRegions: got %+v", got)
	}
	if _, err := FilterRegions(all, "999"); err == nil {
		t.Error("expected unknown region error")
	}
}

func TestLoadRegionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.toml")
	body := "[[region]]\nid = 9\nslug = \"qom\"\nname = \"قم\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	regions, err := LoadRegions(path)
	if err != nil {
		t.Fatalf("LoadRegions: %v", err)
	}
	if len(regions) != 1 || regions[0].Slug != "qom" {
		t.Errorf("regions: got %+v", regions)
	}
}

func TestLoadRegionsRejectsDuplicates(t *testing.T) {
	if _, err := parseRegions([]byte("[[region]]\nid = 1\n[[region]]\nid = 1\n")); err == nil {
		t.Error("expected duplicate id error")
	}
}
