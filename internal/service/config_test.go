package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k8ika0s/fabric-env-publisher/internal/artifact"
	"github.com/k8ika0s/fabric-env-publisher/internal/environment"
	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
	"github.com/k8ika0s/fabric-env-publisher/internal/publish"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(NewViper())
	require.NoError(t, err)
	assert.True(t, cfg.UseFeed)
	assert.Equal(t, ".", cfg.DownloadDir)
	assert.Equal(t, fabric.DefaultBaseURL, cfg.FabricURL)
	assert.Equal(t, environment.DefaultDescription, cfg.Description)
	assert.Equal(t, publish.DefaultTimeout, cfg.PublishTimeout)
	assert.Equal(t, publish.DefaultInterval, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.SettleDelay)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestEnvBinding(t *testing.T) {
	t.Setenv("FABRIC_ENVIRONMENT", "prod")
	t.Setenv("FABRIC_WORKSPACE", "analytics")
	t.Setenv("FABRIC_ACCESS_TOKEN", "tok")
	t.Setenv("PACKAGE_NAME", "pkg")
	t.Setenv("USE_FEED", "false")
	t.Setenv("WHL_URL", "https://host/pkg-1.2.0-py3-none-any.whl")
	t.Setenv("DELETE_WHL", "true")
	t.Setenv("PUBLISH_TIMEOUT", "600")
	t.Setenv("POLL_INTERVAL", "15s")

	cfg, err := FromViper(NewViper())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "analytics", cfg.Workspace)
	assert.False(t, cfg.UseFeed)
	assert.True(t, cfg.DeleteWheel)
	assert.Equal(t, 10*time.Minute, cfg.PublishTimeout, "bare numbers are seconds")
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.IsType(t, artifact.URLSource{}, cfg.Source())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "publisher.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: prod\nfeed-name: wheels\nsettle-delay: 2s\n"), 0o644))
	v := NewViper()
	require.NoError(t, ReadFile(v, path))
	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "wheels", cfg.Feed)
	assert.Equal(t, 2*time.Second, cfg.SettleDelay)

	assert.Error(t, ReadFile(NewViper(), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestBadDuration(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	_, err := FromViper(NewViper())
	assert.ErrorContains(t, err, KeyPollInterval)
}

func validFeedConfig() Config {
	return Config{
		Environment: "prod", Workspace: "analytics", AccessToken: "tok", PackageName: "pkg",
		UseFeed: true, FeedToken: "pat", Organization: "org", Project: "proj", Feed: "feed",
		PublishTimeout: time.Minute, PollInterval: time.Second, LogLevel: "info",
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validFeedConfig().Validate())

	cfg := validFeedConfig()
	cfg.Feed = ""
	cfg.FeedToken = ""
	err := cfg.Validate()
	assert.ErrorContains(t, err, KeyFeed)
	assert.ErrorContains(t, err, KeyFeedToken)

	cfg = validFeedConfig()
	cfg.Organization, cfg.Project, cfg.Feed = "", "", ""
	cfg.FeedURL = "https://feed.example/simple"
	assert.NoError(t, cfg.Validate(), "explicit index url replaces the feed triple")

	cfg = validFeedConfig()
	cfg.UseFeed = false
	assert.ErrorContains(t, cfg.Validate(), KeyWheelURL)

	cfg = validFeedConfig()
	cfg.Environment = " "
	cfg.PollInterval = 0
	cfg.LogLevel = "loud"
	err = cfg.Validate()
	assert.ErrorContains(t, err, KeyEnvironment)
	assert.ErrorContains(t, err, KeyPollInterval)
	assert.ErrorContains(t, err, KeyLogLevel)
}

func TestFeedSourceAndIndexURL(t *testing.T) {
	cfg := validFeedConfig()
	cfg.PackageVersion = "2.0"
	assert.Equal(t, artifact.FeedBaseURL("org", "proj", "feed"), cfg.FeedIndexURL())

	src, ok := cfg.Source().(artifact.FeedSource)
	require.True(t, ok)
	assert.Equal(t, "pkg", src.Package)
	assert.Equal(t, "2.0", src.Version)
	assert.Equal(t, "pat", src.Index.Token)

	cfg.FeedURL = "https://feed.example/simple"
	assert.Equal(t, "https://feed.example/simple", cfg.FeedIndexURL())
}
