package cmd

import (
	"path/filepath"
	"testing"

	"mimic-export/config"
)

func TestRootRegistersCommands(t *testing.T) {
	root := Root(&config.Config{})
	for _, name := range []string{"server", "migrate"} {
		found, _, err := root.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Fatalf("expected %s command, got %v (%v)", name, found, err)
		}
	}
}

func TestMigrateSQLite(t *testing.T) {
	cfg := &config.Config{
		App:      config.App{Environment: "test"},
		Database: config.Database{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "db", "mimic.db")},
	}
	root := Root(cfg)
	root.SetArgs([]string{"migrate"})
	if err := root.Execute(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}
