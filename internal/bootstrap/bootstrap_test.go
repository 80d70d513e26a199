package bootstrap

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/apextraders/internal/config"
)

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "tier", "GOLD")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"tier":"GOLD"`)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, closeFn, err := OpenStore(ctx, config.DatabaseConfig{Driver: "sqlite", URL: filepath.Join(t.TempDir(), "apex.db")})
	require.NoError(t, err)
	ts, err := s.ListTournaments(ctx, "ACTIVE")
	require.NoError(t, err)
	assert.Empty(t, ts)
	require.NoError(t, closeFn())

	_, _, err = OpenStore(ctx, config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}
