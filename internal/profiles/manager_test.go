package profiles_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kadirbelkuyu/dbsync/internal/config"
	"github.com/kadirbelkuyu/dbsync/internal/profiles"
)

func syncConfig(dbType string) *config.Config {
	return &config.Config{
		External: config.DatabaseConfig{
			Type:     dbType,
			Host:     "db.internal",
			Port:     5432,
			Database: "crm",
			Schema:   "public",
		},
		Sync: config.SyncConfig{
			Schedule:     config.DefaultSchedule,
			TableMapping: map[string]string{"crm_customers": "customers", "crm_orders": "orders"},
		},
		Writeback: config.WritebackConfig{Mode: config.ModeWriteback},
	}
}

func TestManagerSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	manager := profiles.NewManager(dir)

	cfg := syncConfig("postgres")
	profile, err := manager.Save("Prod CRM", cfg)
	require.NoError(t, err)
	require.Equal(t, "Prod_CRM", profile.Name)
	require.Equal(t, "postgres", profile.Type)
	require.Equal(t, config.ModeWriteback, profile.Mode)
	require.Equal(t, 2, profile.Tables)
	require.FileExists(t, profile.Path)

	loaded, err := manager.Load(profile.Name)
	require.NoError(t, err)
	require.Equal(t, cfg.External.Host, loaded.External.Host)
	require.Equal(t, cfg.Sync.TableMapping, loaded.Sync.TableMapping)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, manager.Delete(profile.Name))
	require.Error(t, manager.Delete(profile.Name))
}

func TestManagerSaveRejectsInvalidConfig(t *testing.T) {
	manager := profiles.NewManager(t.TempDir())

	cfg := syncConfig("postgres")
	cfg.Sync.TableMapping = map[string]string{"a": "shared", "b": "shared"}
	_, err := manager.Save("broken", cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestManagerListFiltersByType(t *testing.T) {
	dir := t.TempDir()
	manager := profiles.NewManager(dir)

	writeConfig(t, dir, "alpha-postgres.yaml", "postgres")
	writeConfig(t, dir, "beta-mongo.yaml", "mongo")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	all, err := manager.List("")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "alpha-postgres", all[0].Name)

	postgresOnly, err := manager.List("postgres")
	require.NoError(t, err)
	require.Len(t, postgresOnly, 1)
	require.Equal(t, "postgres", postgresOnly[0].Type)

	mongoOnly, err := manager.List("mongo")
	require.NoError(t, err)
	require.Len(t, mongoOnly, 1)
	require.Equal(t, "mongo", mongoOnly[0].Type)
}

func writeConfig(t *testing.T, dir, name, dbType string) {
	t.Helper()

	data, err := yaml.Marshal(syncConfig(dbType))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}
