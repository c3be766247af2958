package app_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/dbsync/internal/app"
	"github.com/kadirbelkuyu/dbsync/internal/config"
	"github.com/kadirbelkuyu/dbsync/internal/profiles"
)

func TestInteractiveListAndValidate(t *testing.T) {
	dir := t.TempDir()
	_, err := profiles.NewManager(dir).Save("crm", crmConfig())
	require.NoError(t, err)

	var out bytes.Buffer
	input := strings.NewReader("4\n2\n1\n9\n5\n")
	a := app.NewApplication(input, &out, dir, nil)
	require.NoError(t, a.RunInteractive(context.Background()))

	printed := out.String()
	assert.Contains(t, printed, "1. crm (postgres, writeback, 1 tables)")
	assert.Contains(t, printed, "crm_customers -> customers")
	assert.Contains(t, printed, "Invalid selection. Try again.")
	assert.Contains(t, printed, "Exiting interactive mode.")
}

func TestInteractiveExitsOnEOF(t *testing.T) {
	var out bytes.Buffer
	a := app.NewApplication(strings.NewReader(""), &out, t.TempDir(), nil)
	require.NoError(t, a.RunInteractive(context.Background()))
	assert.Contains(t, out.String(), "Exiting interactive mode.")
}

func TestInteractiveReportsFailures(t *testing.T) {
	var out bytes.Buffer
	input := strings.NewReader("2\n/does/not/exist.yaml\n5\n")
	a := app.NewApplication(input, &out, t.TempDir(), nil)
	require.NoError(t, a.RunInteractive(context.Background()))
	assert.Contains(t, out.String(), "Operation failed: failed to read config file")
}

func crmConfig() *config.Config {
	return &config.Config{
		External: config.DatabaseConfig{Type: "postgres", Host: "db.internal", Port: 5432, Database: "crm", Schema: "public"},
		Sync: config.SyncConfig{
			Schedule:     "0 * * * *",
			TableMapping: map[string]string{"crm_customers": "customers"},
		},
		Writeback: config.WritebackConfig{Enabled: true, Mode: config.ModeWriteback},
	}
}

func TestValidatePrintsMappingAndSchedule(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, app.NewService(&out).Validate(crmConfig()))

	printed := out.String()
	assert.Contains(t, printed, "Configuration for db.internal:5432 (postgres) is valid.")
	assert.Contains(t, printed, "Writeback: enabled (writeback)")
	assert.Contains(t, printed, "crm_customers -> customers")
	assert.Contains(t, printed, `Schedule "0 * * * *", next runs:`)
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	cfg := crmConfig()
	cfg.Sync.Schedule = "every monday"

	var out bytes.Buffer
	err := app.NewService(&out).Validate(cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Empty(t, out.String())
}
