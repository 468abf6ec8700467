// Package config provides property-based tests for configuration fallback functionality.
// These tests verify universal properties that should hold across all valid inputs.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProperty_InvalidPollIntervalFallsBackToDefault tests that non-positive poll intervals fall back to the default
func TestProperty_InvalidPollIntervalFallsBackToDefault(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("non-positive poll intervals fall back to default", prop.ForAll(
		func(seconds int) bool {
			cfg := &Config{
				Fleet: FleetConfig{PollInterval: time.Duration(seconds) * time.Second},
			}
			ApplyDefaults(cfg)
			return cfg.Fleet.PollInterval == DefaultPollInterval
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("positive poll intervals are kept", prop.ForAll(
		func(seconds int) bool {
			want := time.Duration(seconds) * time.Second
			cfg := &Config{
				Fleet: FleetConfig{PollInterval: want},
			}
			ApplyDefaults(cfg)
			return cfg.Fleet.PollInterval == want
		},
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}

// TestProperty_InvalidRunnersFallsBackToDefault tests that non-positive runner counts fall back to the default
func TestProperty_InvalidRunnersFallsBackToDefault(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("non-positive runner counts fall back to default", prop.ForAll(
		func(n int) bool {
			cfg := &Config{Fleet: FleetConfig{Runners: n}}
			ApplyDefaults(cfg)
			return cfg.Fleet.Runners == DefaultRunners
		},
		gen.IntRange(-1000, 0),
	))

	properties.TestingRun(t)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultNamePrefix, cfg.Fleet.NamePrefix)
	assert.Equal(t, DefaultAlivePolicy, cfg.Fleet.AlivePolicy)
	assert.Equal(t, DefaultProvider, cfg.Cloud.Provider)
	assert.Equal(t, DefaultInstanceTemplate, cfg.Cloud.GCE.InstanceTemplate)
	assert.Equal(t, DefaultDiskImage, cfg.Cloud.GCE.DiskImage)
	assert.Equal(t, DefaultDiskName, cfg.Cloud.GCE.DiskName)
	assert.Equal(t, int64(DefaultDiskSizeGB), cfg.Cloud.GCE.DiskSizeGB)
	assert.Equal(t, DefaultStartupWorkDir, cfg.Fleet.Startup.WorkDir)
	assert.Equal(t, DefaultStartupUser, cfg.Fleet.Startup.User)
	assert.Equal(t, DefaultIndexStore, cfg.Index.Store)
	assert.Equal(t, DefaultIndexHost, cfg.Index.Host)
	assert.Equal(t, DefaultIndexPort, cfg.Index.Port)
	assert.Zero(t, cfg.Fleet.ProvisionTimeout)
	assert.False(t, cfg.Fleet.Lock)
	assert.Equal(t, "console", cfg.Logger.Output)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRunners, cfg.Fleet.Runners)
}

func TestLoad_OverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
fleet:
  runners: 12
  name_prefix: "spore-vm-"
  poll_interval: 2s
  provision_timeout: 10m
  lock: true
  startup:
    template: /etc/yarrow/startup.tmpl
cloud:
  provider: k8s
  gce:
    project: demo
    zone: europe-west1-d
index:
  store: redis
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Fleet.Runners)
	assert.Equal(t, "spore-vm-", cfg.Fleet.NamePrefix)
	assert.Equal(t, 2*time.Second, cfg.Fleet.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Fleet.ProvisionTimeout)
	assert.True(t, cfg.Fleet.Lock)
	assert.Equal(t, "/etc/yarrow/startup.tmpl", cfg.Fleet.Startup.Template)
	assert.Equal(t, "k8s", cfg.Cloud.Provider)
	assert.Equal(t, "demo", cfg.Cloud.GCE.Project)
	assert.Equal(t, "redis", cfg.Index.Store)
	assert.Equal(t, DefaultDiskImage, cfg.Cloud.GCE.DiskImage)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fleet: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
