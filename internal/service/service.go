package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/k8ika0s/fabric-env-publisher/internal/artifact"
	"github.com/k8ika0s/fabric-env-publisher/internal/environment"
	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
	"github.com/k8ika0s/fabric-env-publisher/internal/library"
	"github.com/k8ika0s/fabric-env-publisher/internal/objectstore"
	"github.com/k8ika0s/fabric-env-publisher/internal/publish"
	"github.com/k8ika0s/fabric-env-publisher/internal/reporter"
	"github.com/k8ika0s/fabric-env-publisher/internal/store"
)

// Outcome is what one publisher run produced.
type Outcome struct {
	RunID  string
	Result library.Result
}

// Publisher holds the components of a run built from Config.
type Publisher struct {
	Cfg     Config
	Manager *library.Manager
	History store.Store
	Logger  *log.Logger

	closers []io.Closer
}

// Build constructs the publisher. Optional backends (Redis cache, event
// sinks, object store, Postgres history) are enabled by their settings; a
// backend that fails to start is logged and left out.
func Build(ctx context.Context, cfg Config, logger *log.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	p := &Publisher{Cfg: cfg, Logger: logger, History: store.NullStore{}}

	client := fabric.New(fabric.Config{BaseURL: cfg.FabricURL, Token: cfg.AccessToken})

	lookup := environment.NewCachedLookup(environment.RESTLookup{API: client}, client, cfg.RedisURL, cfg.RedisKeyPrefix, cfg.CacheTTL, logger)
	p.track(lookup)
	resolver := environment.NewResolver(lookup, client, logger)
	if cfg.Description != "" {
		resolver.Description = cfg.Description
	}

	settle := cfg.SettleDelay
	if settle == 0 {
		settle = library.NoSettle
	}
	p.Manager = &library.Manager{
		Resolver:      resolver,
		API:           client,
		Source:        cfg.Source(),
		Waiter:        &publish.Poller{API: client, Interval: cfg.PollInterval, Timeout: cfg.PublishTimeout, Logger: logger},
		ArchivePrefix: cfg.ObjectStorePrefix,
		Sink:          p.sink(),
		SettleDelay:   settle,
		Logger:        logger,
	}
	if archive := p.archive(ctx); archive != nil {
		p.Manager.Archive = archive
	}
	if cfg.PostgresDSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Warn("run history disabled", "err", err)
		} else {
			p.History = pg
			p.track(pg)
		}
	}
	return p, nil
}

// Source returns the artifact source selected by UseFeed.
func (c Config) Source() artifact.Source {
	dl := artifact.Downloader{Dir: c.DownloadDir}
	if !c.UseFeed {
		return artifact.URLSource{Downloader: dl, URL: c.WheelURL}
	}
	return artifact.FeedSource{
		Index:      artifact.FeedIndex{BaseURL: c.FeedIndexURL(), Token: c.FeedToken},
		Downloader: dl,
		Package:    c.PackageName,
		Version:    c.PackageVersion,
	}
}

func (p *Publisher) sink() reporter.Sink {
	var sinks []reporter.Sink
	if p.Cfg.ReportURL != "" {
		sinks = append(sinks, &reporter.HTTPSink{
			URL:    p.Cfg.ReportURL,
			Token:  p.Cfg.ReportToken,
			Client: &http.Client{Timeout: 10 * time.Second},
		})
	}
	if strings.TrimSpace(p.Cfg.KafkaBrokers) != "" {
		k, err := reporter.NewKafkaSink(p.Cfg.KafkaBrokers, p.Cfg.KafkaTopic)
		if err != nil {
			p.Logger.Warn("kafka events disabled", "err", err)
		} else {
			sinks = append(sinks, k)
			p.track(k)
		}
	}
	return reporter.Combine(sinks...)
}

func (p *Publisher) archive(ctx context.Context) objectstore.Store {
	if p.Cfg.ObjectStoreEndpoint == "" || p.Cfg.ObjectStoreBucket == "" {
		return nil
	}
	s, err := objectstore.NewMinIOStore(ctx, objectstore.Options{
		Endpoint:  p.Cfg.ObjectStoreEndpoint,
		AccessKey: p.Cfg.ObjectStoreAccess,
		SecretKey: p.Cfg.ObjectStoreSecret,
		Bucket:    p.Cfg.ObjectStoreBucket,
		UseSSL:    p.Cfg.ObjectStoreUseSSL,
	})
	if err != nil {
		p.Logger.Warn("wheel archive disabled", "err", err)
		return nil
	}
	return s
}

func (p *Publisher) track(v any) {
	if c, ok := v.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}
}

// Close releases every backend connection.
func (p *Publisher) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Publish runs the library lifecycle once and records it in history.
func (p *Publisher) Publish(ctx context.Context) (Outcome, error) {
	runID := uuid.NewString()
	logger := p.Logger.With("run", runID)
	started := time.Now().UTC()
	logger.Info("publishing", "package", p.Cfg.PackageName, "environment", p.Cfg.Environment, "workspace", p.Cfg.Workspace, "source", p.Manager.Source.Describe())

	res, err := p.Manager.Run(ctx, library.Request{
		RunID:           runID,
		EnvironmentName: p.Cfg.Environment,
		WorkspaceName:   p.Cfg.Workspace,
		PackageName:     p.Cfg.PackageName,
		DeleteArtifact:  p.Cfg.DeleteWheel,
	})

	run := store.Run{
		RunID:       runID,
		Workspace:   p.Cfg.Workspace,
		Environment: p.Cfg.Environment,
		Package:     p.Cfg.PackageName,
		Version:     p.Cfg.PackageVersion,
		Filename:    res.Artifact,
		Status:      RunStatus(res, err),
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
	}
	switch {
	case err != nil:
		run.Detail = err.Error()
	case res.UploadErr != nil:
		run.Detail = res.UploadErr.Error()
	case res.PublishErr != nil:
		run.Detail = res.PublishErr.Error()
	}
	if herr := p.History.RecordRun(ctx, run); herr != nil {
		logger.Warn("record run history failed", "err", herr)
	}
	return Outcome{RunID: runID, Result: res}, err
}

// RunStatus condenses a run into one history status.
func RunStatus(res library.Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.UploadErr != nil:
		return "upload_failed"
	default:
		return string(res.Status)
	}
}

// Run builds a publisher from cfg, publishes once and releases its backends.
func Run(ctx context.Context, cfg Config, logger *log.Logger) (Outcome, error) {
	p, err := Build(ctx, cfg, logger)
	if err != nil {
		return Outcome{}, err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			p.Logger.Debug("close backends", "err", cerr)
		}
	}()
	return p.Publish(ctx)
}
