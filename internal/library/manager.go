package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/k8ika0s/fabric-env-publisher/internal/artifact"
	"github.com/k8ika0s/fabric-env-publisher/internal/environment"
	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
	"github.com/k8ika0s/fabric-env-publisher/internal/objectstore"
	"github.com/k8ika0s/fabric-env-publisher/internal/publish"
	"github.com/k8ika0s/fabric-env-publisher/internal/reporter"
)

// DefaultSettleDelay is the pause after the removal publish.
const DefaultSettleDelay = 5 * time.Second

// NoSettle as Manager.SettleDelay skips the pause after the removal publish.
const NoSettle time.Duration = -1

// Steps of a run, used in StepError and events.
const (
	StepResolve        = "resolve-environment"
	StepProbe          = "probe-libraries"
	StepDelete         = "delete-library"
	StepRemovalPublish = "publish-removal"
	StepFetch          = "fetch-artifact"
	StepUpload         = "upload"
	StepArchive        = "archive"
	StepInspect        = "inspect-metadata"
	StepStaging        = "list-staging"
	StepPublish        = "publish"
	StepCleanup        = "cleanup"
)

// StepError is a fatal failure of one step of the run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	if code := fabric.StatusCode(e.Err); code != 0 {
		return fmt.Sprintf("%s failed (status %d): %v", e.Step, code, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Status summarizes how the final publish ended.
type Status string

const (
	StatusPublished        Status = "published"
	StatusNothingToPublish Status = "nothing_to_publish"
	StatusAlreadyRunning   Status = "publish_already_running"
	StatusPublishFailed    Status = "publish_failed"
	StatusPublishTimedOut  Status = "publish_timed_out"
	StatusNotStarted       Status = "publish_not_started"
)

// Resolver resolves or creates the target environment.
type Resolver interface {
	CreateOrGet(ctx context.Context, displayName, workspaceName string) (environment.Ref, error)
}

// API is the subset of the Fabric client the lifecycle uses.
type API interface {
	GetLibraries(ctx context.Context, workspaceID, environmentID string) (fabric.Libraries, error)
	GetStagingLibraries(ctx context.Context, workspaceID, environmentID string) (fabric.Libraries, error)
	DeleteStagingLibrary(ctx context.Context, workspaceID, environmentID, library string) error
	UploadStagingLibrary(ctx context.Context, workspaceID, environmentID, filename string, content io.Reader) error
	GetEnvironment(ctx context.Context, workspaceID, environmentID string) (fabric.EnvironmentMetadata, error)
	PublishStaging(ctx context.Context, workspaceID, environmentID string) error
}

// Waiter blocks until a triggered publish reaches a terminal outcome.
type Waiter interface {
	Wait(ctx context.Context, workspaceID, environmentID string) (publish.Outcome, error)
}

// Request names what to publish and where.
type Request struct {
	RunID           string
	EnvironmentName string
	WorkspaceName   string
	PackageName     string
	// DeleteArtifact removes the local wheel once it has been uploaded.
	DeleteArtifact bool
}

// Result records what a run did. Non-fatal failures land here instead of
// in the returned error.
type Result struct {
	Environment environment.Ref
	Removed     []string
	Artifact    string
	Uploaded    bool
	UploadErr   error
	ArchiveKey  string
	Published   bool
	Status      Status
	PublishErr  error
	Cleaned     bool
}

// Complete reports whether the wheel was uploaded and no publish failed.
func (r Result) Complete() bool {
	if !r.Uploaded {
		return false
	}
	switch r.Status {
	case StatusPublished, StatusNothingToPublish, StatusAlreadyRunning:
		return true
	}
	return false
}

// Manager drives one library replacement in an environment.
type Manager struct {
	Resolver Resolver
	API      API
	Source   artifact.Source
	Waiter   Waiter

	Archive       objectstore.Store
	ArchivePrefix string
	Sink          reporter.Sink

	// SettleDelay is the pause after the removal publish. Zero means
	// DefaultSettleDelay; a negative value such as NoSettle disables it.
	SettleDelay time.Duration
	Clock       publish.Clock
	Logger      *log.Logger
}

func (m *Manager) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.New(io.Discard)
}

func (m *Manager) clock() publish.Clock {
	if m.Clock != nil {
		return m.Clock
	}
	return publish.RealClock()
}

func (m *Manager) settle() time.Duration {
	switch {
	case m.SettleDelay < 0:
		return 0
	case m.SettleDelay == 0:
		return DefaultSettleDelay
	}
	return m.SettleDelay
}

type run struct {
	*Manager
	req    Request
	res    *Result
	logger *log.Logger
}

func (r *run) emit(ctx context.Context, step, status string, err error) {
	if r.Sink == nil {
		return
	}
	evt := reporter.Event{
		RunID:       r.req.RunID,
		Step:        step,
		Status:      status,
		Workspace:   r.req.WorkspaceName,
		Environment: r.req.EnvironmentName,
		Package:     r.req.PackageName,
		Filename:    r.res.Artifact,
		Timestamp:   r.clock().Now().UTC(),
	}
	if err != nil {
		evt.Detail = err.Error()
		evt.StatusCode = fabric.StatusCode(err)
	}
	if err := r.Sink.Emit(ctx, evt); err != nil {
		r.logger.Warn("event delivery failed", "step", step, "err", err)
	}
}

func (r *run) fail(ctx context.Context, step string, err error) error {
	r.emit(ctx, step, reporter.StatusFailed, err)
	return &StepError{Step: step, Err: err}
}

// Run replaces any previous version of the package in the environment with
// the wheel from Source and publishes the result. The returned error is
// non-nil only for fatal failures; partial outcomes are described by Result.
func (m *Manager) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{Status: StatusNotStarted}
	r := &run{Manager: m, req: req, res: &res, logger: m.logger().With("package", req.PackageName)}
	err := r.exec(ctx)
	return res, err
}

func (r *run) exec(ctx context.Context) error {
	ref, err := r.Resolver.CreateOrGet(ctx, r.req.EnvironmentName, r.req.WorkspaceName)
	if err != nil {
		return r.fail(ctx, StepResolve, err)
	}
	r.res.Environment = ref
	r.logger = r.logger.With("environment", ref.DisplayName)
	r.emit(ctx, StepResolve, reporter.StatusOK, nil)

	existing, err := r.probe(ctx, ref)
	if err != nil {
		return r.fail(ctx, StepProbe, err)
	}
	if len(existing) > 0 {
		if err := r.remove(ctx, ref, existing); err != nil {
			return err
		}
	} else {
		r.logger.Info("no existing library found")
	}

	art, err := r.Source.Fetch(ctx)
	if err != nil {
		return r.fail(ctx, StepFetch, err)
	}
	r.res.Artifact = art.Filename
	r.logger.Info("artifact fetched", "file", art.Filename, "source", r.Source.Describe())
	r.emit(ctx, StepFetch, reporter.StatusOK, nil)
	defer r.cleanup(ctx, art)

	r.upload(ctx, ref, art)
	r.publishStaged(ctx, ref)
	return nil
}

// probe returns the wheels of the package present in the published or the
// staged listing. A 404 on either listing means no library.
func (r *run) probe(ctx context.Context, ref environment.Ref) ([]string, error) {
	var found []string
	seen := map[string]bool{}
	listings := []func(context.Context, string, string) (fabric.Libraries, error){
		r.API.GetLibraries,
		r.API.GetStagingLibraries,
	}
	for _, list := range listings {
		libs, err := list(ctx, ref.WorkspaceID, ref.ID)
		if err != nil {
			if fabric.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		for _, name := range libs.CustomLibraries.WheelFiles {
			if !seen[name] && artifact.MatchesPackage(name, r.req.PackageName) {
				seen[name] = true
				found = append(found, name)
			}
		}
	}
	return found, nil
}

// remove deletes the stale wheels from staging and publishes so the
// removal reaches the platform before the new wheel is uploaded.
func (r *run) remove(ctx context.Context, ref environment.Ref, existing []string) error {
	for _, name := range existing {
		r.logger.Info("removing existing library", "file", name)
		if err := r.API.DeleteStagingLibrary(ctx, ref.WorkspaceID, ref.ID, name); err != nil {
			return r.fail(ctx, StepDelete, fmt.Errorf("delete %s: %w", name, err))
		}
		r.res.Removed = append(r.res.Removed, name)
	}
	r.emit(ctx, StepDelete, reporter.StatusOK, nil)

	if err := r.API.PublishStaging(ctx, ref.WorkspaceID, ref.ID); err != nil {
		return r.fail(ctx, StepRemovalPublish, err)
	}
	outcome, err := r.Waiter.Wait(ctx, ref.WorkspaceID, ref.ID)
	if err != nil {
		return r.fail(ctx, StepRemovalPublish, err)
	}
	if outcome != publish.Succeeded {
		return r.fail(ctx, StepRemovalPublish, fmt.Errorf("publish %s", outcome))
	}
	r.emit(ctx, StepRemovalPublish, reporter.StatusOK, nil)

	if d := r.settle(); d > 0 {
		if err := r.clock().Sleep(ctx, d); err != nil {
			return r.fail(ctx, StepRemovalPublish, err)
		}
	}
	return nil
}

func (r *run) upload(ctx context.Context, ref environment.Ref, art *artifact.Artifact) {
	err := func() error {
		f, err := art.Open()
		if err != nil {
			return err
		}
		defer f.Close()
		return r.API.UploadStagingLibrary(ctx, ref.WorkspaceID, ref.ID, art.Filename, f)
	}()
	if err != nil {
		r.res.UploadErr = err
		r.logger.Error("upload failed", "file", art.Filename, "status", fabric.StatusCode(err), "err", err)
		r.emit(ctx, StepUpload, reporter.StatusFailed, err)
		return
	}
	r.res.Uploaded = true
	r.logger.Info("library uploaded", "file", art.Filename)
	r.emit(ctx, StepUpload, reporter.StatusOK, nil)

	if r.Archive == nil {
		return
	}
	key, err := objectstore.Archive(ctx, r.Archive, r.ArchivePrefix, r.req.PackageName, art)
	if err != nil {
		r.logger.Warn("archive failed", "err", err)
		r.emit(ctx, StepArchive, reporter.StatusFailed, err)
		return
	}
	r.res.ArchiveKey = key
	r.logger.Debug("wheel archived", "key", key)
}

// publishStaged triggers the final publish when nothing is already running
// and staging has content. Failures are recorded, never returned.
func (r *run) publishStaged(ctx context.Context, ref environment.Ref) {
	meta, err := r.API.GetEnvironment(ctx, ref.WorkspaceID, ref.ID)
	if err != nil {
		r.res.PublishErr = err
		r.logger.Error("fetch environment metadata failed", "status", fabric.StatusCode(err), "err", err)
		r.emit(ctx, StepInspect, reporter.StatusFailed, err)
		return
	}
	if publish.IsRunning(meta.PublishState()) {
		r.res.Status = StatusAlreadyRunning
		r.logger.Warn("publish already running, final publish skipped")
		r.emit(ctx, StepPublish, reporter.StatusSkipped, nil)
		return
	}

	staged, err := r.API.GetStagingLibraries(ctx, ref.WorkspaceID, ref.ID)
	if err != nil {
		r.res.PublishErr = err
		r.logger.Error("list staging libraries failed", "status", fabric.StatusCode(err), "err", err)
		r.emit(ctx, StepStaging, reporter.StatusFailed, err)
		return
	}
	if staged.Empty() {
		r.res.Status = StatusNothingToPublish
		r.logger.Info("staging is empty, nothing to publish")
		r.emit(ctx, StepPublish, reporter.StatusSkipped, nil)
		return
	}

	if err := r.API.PublishStaging(ctx, ref.WorkspaceID, ref.ID); err != nil {
		r.res.PublishErr = err
		r.logger.Error("publish trigger failed", "status", fabric.StatusCode(err), "err", err)
		r.emit(ctx, StepPublish, reporter.StatusFailed, err)
		return
	}
	r.res.Published = true
	r.logger.Info("publish started")

	outcome, err := r.Waiter.Wait(ctx, ref.WorkspaceID, ref.ID)
	switch {
	case err != nil:
		r.res.Status = StatusPublishTimedOut
		r.res.PublishErr = err
	case outcome == publish.Succeeded:
		r.res.Status = StatusPublished
	case outcome == publish.Failed:
		r.res.Status = StatusPublishFailed
		r.res.PublishErr = errors.New("publish failed")
	default:
		r.res.Status = StatusPublishTimedOut
		r.res.PublishErr = errors.New("publish timed out")
	}
	if r.res.PublishErr != nil {
		r.emit(ctx, StepPublish, reporter.StatusFailed, r.res.PublishErr)
		return
	}
	r.emit(ctx, StepPublish, reporter.StatusOK, nil)
}

// cleanup removes the local wheel when deletion was requested and the
// upload went through.
func (r *run) cleanup(ctx context.Context, art *artifact.Artifact) {
	if !r.req.DeleteArtifact {
		return
	}
	if !r.res.Uploaded {
		r.logger.Warn("upload did not succeed, keeping local wheel", "path", art.Path)
		return
	}
	if err := art.Remove(); err != nil {
		r.logger.Warn("remove local wheel failed", "path", art.Path, "err", err)
		r.emit(ctx, StepCleanup, reporter.StatusFailed, err)
		return
	}
	r.res.Cleaned = true
	r.logger.Info("local wheel removed", "path", art.Path)
}
