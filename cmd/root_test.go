package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/feed/config"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, Execute())
	assert.Equal(t, Version+"\n", out.String())
}

func TestSetupLoggingLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	setupLogging(config.Config{Environment: "production", Logging: config.LoggingConfig{Level: "warn", Format: "json"}})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	setupLogging(config.Config{Environment: "production", Logging: config.LoggingConfig{Level: "bogus"}})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestBuildSinkDefaultsToLog(t *testing.T) {
	a := &app{cfg: config.Config{}}
	sink, err := a.buildSink(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sink)
}

func TestBuildSinkRejectsRedisWithoutCache(t *testing.T) {
	a := &app{cfg: config.Config{Sinks: []string{"log", "redis"}}}
	_, err := a.buildSink(context.Background())
	assert.Error(t, err)
}
