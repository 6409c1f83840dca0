package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/k8ika0s/fabric-env-publisher/internal/artifact"
	"github.com/k8ika0s/fabric-env-publisher/internal/environment"
	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
	"github.com/k8ika0s/fabric-env-publisher/internal/library"
	"github.com/k8ika0s/fabric-env-publisher/internal/publish"
)

// Configuration keys. Flags share these names.
const (
	KeyEnvironment    = "environment"
	KeyWorkspace      = "workspace-name"
	KeyAccessToken    = "access-token"
	KeyPackageName    = "package-name"
	KeyPackageVersion = "package-version"
	KeyUseFeed        = "is-devops"
	KeyFeedToken      = "devops-pat"
	KeyOrganization   = "organization-name"
	KeyProject        = "project-name"
	KeyFeed           = "feed-name"
	KeyFeedURL        = "feed-url"
	KeyWheelURL       = "whl-url"
	KeyDeleteWheel    = "delete-whl"
	KeyDownloadDir    = "download-dir"
	KeyFabricURL      = "fabric-url"
	KeyDescription    = "description"
	KeyPublishTimeout = "publish-timeout"
	KeyPollInterval   = "poll-interval"
	KeySettleDelay    = "settle-delay"
	KeyLogLevel       = "log-level"

	KeyRedisURL          = "redis-url"
	KeyRedisKeyPrefix    = "redis-key-prefix"
	KeyCacheTTL          = "cache-ttl"
	KeyReportURL         = "report-url"
	KeyReportToken       = "report-token"
	KeyKafkaBrokers      = "kafka-brokers"
	KeyKafkaTopic        = "kafka-topic"
	KeyObjectEndpoint    = "object-store-endpoint"
	KeyObjectBucket      = "object-store-bucket"
	KeyObjectAccessKey   = "object-store-access-key"
	KeyObjectSecretKey   = "object-store-secret-key"
	KeyObjectUseSSL      = "object-store-use-ssl"
	KeyObjectStorePrefix = "object-store-prefix"
	KeyPostgresDSN       = "postgres-dsn"
)

// envBindings maps configuration keys to environment variables.
var envBindings = map[string]string{
	KeyEnvironment:    "FABRIC_ENVIRONMENT",
	KeyWorkspace:      "FABRIC_WORKSPACE",
	KeyAccessToken:    "FABRIC_ACCESS_TOKEN",
	KeyPackageName:    "PACKAGE_NAME",
	KeyPackageVersion: "PACKAGE_VERSION",
	KeyUseFeed:        "USE_FEED",
	KeyFeedToken:      "DEVOPS_PAT",
	KeyOrganization:   "DEVOPS_ORGANIZATION",
	KeyProject:        "DEVOPS_PROJECT",
	KeyFeed:           "DEVOPS_FEED",
	KeyFeedURL:        "FEED_INDEX_URL",
	KeyWheelURL:       "WHL_URL",
	KeyDeleteWheel:    "DELETE_WHL",
	KeyDownloadDir:    "DOWNLOAD_DIR",
	KeyFabricURL:      "FABRIC_BASE_URL",
	KeyDescription:    "ENVIRONMENT_DESCRIPTION",
	KeyPublishTimeout: "PUBLISH_TIMEOUT",
	KeyPollInterval:   "POLL_INTERVAL",
	KeySettleDelay:    "SETTLE_DELAY",
	KeyLogLevel:       "LOG_LEVEL",

	KeyRedisURL:          "REDIS_URL",
	KeyRedisKeyPrefix:    "REDIS_KEY_PREFIX",
	KeyCacheTTL:          "CACHE_TTL",
	KeyReportURL:         "REPORT_URL",
	KeyReportToken:       "REPORT_TOKEN",
	KeyKafkaBrokers:      "KAFKA_BROKERS",
	KeyKafkaTopic:        "KAFKA_TOPIC",
	KeyObjectEndpoint:    "OBJECT_STORE_ENDPOINT",
	KeyObjectBucket:      "OBJECT_STORE_BUCKET",
	KeyObjectAccessKey:   "OBJECT_STORE_ACCESS_KEY",
	KeyObjectSecretKey:   "OBJECT_STORE_SECRET_KEY",
	KeyObjectUseSSL:      "OBJECT_STORE_USE_SSL",
	KeyObjectStorePrefix: "OBJECT_STORE_PREFIX",
	KeyPostgresDSN:       "POSTGRES_DSN",
}

// Config holds publisher settings.
type Config struct {
	Environment    string
	Workspace      string
	AccessToken    string
	PackageName    string
	PackageVersion string

	UseFeed      bool
	FeedToken    string
	Organization string
	Project      string
	Feed         string
	FeedURL      string
	WheelURL     string
	DeleteWheel  bool
	DownloadDir  string

	FabricURL      string
	Description    string
	PublishTimeout time.Duration
	PollInterval   time.Duration
	SettleDelay    time.Duration
	LogLevel       string

	RedisURL       string
	RedisKeyPrefix string
	CacheTTL       time.Duration

	ReportURL    string
	ReportToken  string
	KafkaBrokers string
	KafkaTopic   string

	ObjectStoreEndpoint string
	ObjectStoreBucket   string
	ObjectStoreAccess   string
	ObjectStoreSecret   string
	ObjectStoreUseSSL   bool
	ObjectStorePrefix   string

	PostgresDSN string
}

// NewViper returns a viper instance with defaults and environment bindings
// for every configuration key.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyUseFeed, true)
	v.SetDefault(KeyDownloadDir, ".")
	v.SetDefault(KeyFabricURL, fabric.DefaultBaseURL)
	v.SetDefault(KeyDescription, environment.DefaultDescription)
	v.SetDefault(KeyPublishTimeout, publish.DefaultTimeout.String())
	v.SetDefault(KeyPollInterval, publish.DefaultInterval.String())
	v.SetDefault(KeySettleDelay, library.DefaultSettleDelay.String())
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyRedisKeyPrefix, "fabric-publisher")
	v.SetDefault(KeyCacheTTL, environment.DefaultCacheTTL.String())
	v.SetDefault(KeyObjectStorePrefix, "wheels")
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

// ReadFile merges a YAML, JSON or TOML config file into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// FromViper reads a Config out of v. Durations accept Go syntax ("90s",
// "20m") or a bare number of seconds.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Environment:    v.GetString(KeyEnvironment),
		Workspace:      v.GetString(KeyWorkspace),
		AccessToken:    v.GetString(KeyAccessToken),
		PackageName:    v.GetString(KeyPackageName),
		PackageVersion: v.GetString(KeyPackageVersion),

		UseFeed:      v.GetBool(KeyUseFeed),
		FeedToken:    v.GetString(KeyFeedToken),
		Organization: v.GetString(KeyOrganization),
		Project:      v.GetString(KeyProject),
		Feed:         v.GetString(KeyFeed),
		FeedURL:      v.GetString(KeyFeedURL),
		WheelURL:     v.GetString(KeyWheelURL),
		DeleteWheel:  v.GetBool(KeyDeleteWheel),
		DownloadDir:  v.GetString(KeyDownloadDir),

		FabricURL:   v.GetString(KeyFabricURL),
		Description: v.GetString(KeyDescription),
		LogLevel:    v.GetString(KeyLogLevel),

		RedisURL:       v.GetString(KeyRedisURL),
		RedisKeyPrefix: v.GetString(KeyRedisKeyPrefix),

		ReportURL:    v.GetString(KeyReportURL),
		ReportToken:  v.GetString(KeyReportToken),
		KafkaBrokers: v.GetString(KeyKafkaBrokers),
		KafkaTopic:   v.GetString(KeyKafkaTopic),

		ObjectStoreEndpoint: v.GetString(KeyObjectEndpoint),
		ObjectStoreBucket:   v.GetString(KeyObjectBucket),
		ObjectStoreAccess:   v.GetString(KeyObjectAccessKey),
		ObjectStoreSecret:   v.GetString(KeyObjectSecretKey),
		ObjectStoreUseSSL:   v.GetBool(KeyObjectUseSSL),
		ObjectStorePrefix:   v.GetString(KeyObjectStorePrefix),

		PostgresDSN: v.GetString(KeyPostgresDSN),
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyPublishTimeout, &cfg.PublishTimeout},
		{KeyPollInterval, &cfg.PollInterval},
		{KeySettleDelay, &cfg.SettleDelay},
		{KeyCacheTTL, &cfg.CacheTTL},
	}
	for _, d := range durations {
		val, err := parseDuration(v.GetString(d.key))
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = val
	}
	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate checks that the required inputs for the selected artifact source
// are present.
func (c Config) Validate() error {
	var errs []error
	required := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	required(KeyEnvironment, c.Environment)
	required(KeyWorkspace, c.Workspace)
	required(KeyAccessToken, c.AccessToken)
	required(KeyPackageName, c.PackageName)
	if c.UseFeed {
		required(KeyFeedToken, c.FeedToken)
		if c.FeedURL == "" {
			required(KeyOrganization, c.Organization)
			required(KeyProject, c.Project)
			required(KeyFeed, c.Feed)
		}
	} else {
		required(KeyWheelURL, c.WheelURL)
	}
	if c.PublishTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyPublishTimeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyPollInterval))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeySettleDelay))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyLogLevel, err))
	}
	return errors.Join(errs...)
}

// FeedIndexURL returns the simple-index root of the configured feed.
func (c Config) FeedIndexURL() string {
	if c.FeedURL != "" {
		return c.FeedURL
	}
	return artifact.FeedBaseURL(c.Organization, c.Project, c.Feed)
}
