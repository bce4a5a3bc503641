package midas

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pools.json")
	if err := os.WriteFile(path, []byte(`{"sessions": 64, "thumbnails": 128}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	wantSessions, wantThumbnails := 64*bytesPerMB, 128*bytesPerMB
	if cfg["sessions"] != wantSessions || cfg["thumbnails"] != wantThumbnails {
		t.Errorf("LoadConfig() = %v, want sessions=%d thumbnails=%d", cfg, wantSessions, wantThumbnails)
	}
}

func TestLoadConfigRejectsNegativeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pools.json")
	if err := os.WriteFile(path, []byte(`{"bad": -1}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig should reject a negative pool limit")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/pools.json"); err == nil {
		t.Error("LoadConfig should error on a missing file")
	}
}

func TestLoadConfigMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pools.json")
	if err := os.WriteFile(path, []byte(`not json`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig should error on malformed JSON")
	}
}
