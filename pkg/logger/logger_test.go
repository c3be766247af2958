package logger_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

func TestVerboseEnablesDebug(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, false)
	log.Debug("hidden")
	log.WithField("table", "customers").Info("Table reconciled")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "table=customers")

	buf.Reset()
	log = logger.New(&buf, true)
	log.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
