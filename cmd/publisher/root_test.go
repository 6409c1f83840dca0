package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
	"github.com/k8ika0s/fabric-env-publisher/internal/library"
	"github.com/k8ika0s/fabric-env-publisher/internal/service"
)

var requiredArgs = []string{
	"--environment", "prod",
	"--workspace-name", "analytics",
	"--access-token", "tok",
	"--package-name", "pkg",
	"--is-devops=false",
	"--whl-url", "https://host/pkg-1.2.0-py3-none-any.whl",
}

type fakeRun struct {
	calls int
	cfg   service.Config
	out   service.Outcome
	err   error
}

func (f *fakeRun) run(_ context.Context, cfg service.Config, _ *log.Logger) (service.Outcome, error) {
	f.calls++
	f.cfg = cfg
	return f.out, f.err
}

func runCLI(t *testing.T, fr *fakeRun, args ...string) (int, string) {
	t.Helper()
	var stderr bytes.Buffer
	cmd := newRootCmd(service.NewViper(), fr.run, &stderr)
	cmd.SetArgs(args)
	cmd.SetOut(&stderr)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return exitCode(err), stderr.String()
}

func published() service.Outcome {
	return service.Outcome{RunID: "r1", Result: library.Result{Uploaded: true, Status: library.StatusPublished}}
}

func TestSuccessExitsZero(t *testing.T) {
	fr := &fakeRun{out: published()}
	code, _ := runCLI(t, fr, requiredArgs...)
	assert.Equal(t, ExitOK, code)
	require.Equal(t, 1, fr.calls)
	assert.Equal(t, "prod", fr.cfg.Environment)
	assert.False(t, fr.cfg.UseFeed)
	assert.Equal(t, 20*time.Minute, fr.cfg.PublishTimeout)
	assert.Equal(t, time.Minute, fr.cfg.PollInterval)
}

func TestNothingToPublishExitsZero(t *testing.T) {
	fr := &fakeRun{out: service.Outcome{Result: library.Result{Uploaded: true, Status: library.StatusNothingToPublish}}}
	code, _ := runCLI(t, fr, requiredArgs...)
	assert.Equal(t, ExitOK, code)
}

func TestMissingInputsExitOneWithoutRunning(t *testing.T) {
	fr := &fakeRun{}
	code, out := runCLI(t, fr, "--environment", "prod")
	assert.Equal(t, ExitFatal, code)
	assert.Equal(t, 0, fr.calls)
	assert.Contains(t, out, "workspace-name is required")
	assert.Contains(t, out, "devops-pat is required")
}

func TestFatalStepErrorExitsOne(t *testing.T) {
	fr := &fakeRun{err: &library.StepError{
		Step: library.StepDelete,
		Err:  &fabric.RemoteError{Method: fabric.MethodDelete, StatusCode: http.StatusConflict},
	}}
	code, out := runCLI(t, fr, requiredArgs...)
	assert.Equal(t, ExitFatal, code)
	assert.Contains(t, out, library.StepDelete)
	assert.Contains(t, out, "409")
}

func TestIncompleteRunExitsTwo(t *testing.T) {
	cases := map[string]library.Result{
		"publish failed":    {Uploaded: true, Status: library.StatusPublishFailed, PublishErr: errors.New("publish failed")},
		"publish timed out": {Uploaded: true, Status: library.StatusPublishTimedOut, PublishErr: errors.New("publish timed out")},
		"upload failed":     {UploadErr: errors.New("status 400"), Status: library.StatusNothingToPublish},
	}
	for name, res := range cases {
		t.Run(name, func(t *testing.T) {
			fr := &fakeRun{out: service.Outcome{Result: res}}
			code, _ := runCLI(t, fr, requiredArgs...)
			assert.Equal(t, ExitIncomplete, code)
		})
	}
}

func TestEnvironmentAndFlagPrecedence(t *testing.T) {
	t.Setenv("FABRIC_ENVIRONMENT", "from-env")
	t.Setenv("FABRIC_WORKSPACE", "ws-env")
	t.Setenv("POLL_INTERVAL", "30")

	fr := &fakeRun{out: published()}
	code, _ := runCLI(t, fr, requiredArgs...)
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "prod", fr.cfg.Environment, "flag wins over env")
	assert.Equal(t, 30*time.Second, fr.cfg.PollInterval)

	args := []string{"--access-token", "tok", "--package-name", "pkg", "--is-devops=false", "--whl-url", "https://h/p-1-py3-none-any.whl"}
	code, _ = runCLI(t, fr, args...)
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "from-env", fr.cfg.Environment)
	assert.Equal(t, "ws-env", fr.cfg.Workspace)
}

func TestConfigFileFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "publisher.yaml")
	body := "environment: prod\nworkspace-name: analytics\naccess-token: tok\npackage-name: pkg\n" +
		"devops-pat: pat\norganization-name: org\nproject-name: proj\nfeed-name: feed\npackage-version: \"2.0\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	fr := &fakeRun{out: published()}
	code, _ := runCLI(t, fr, "--config", path)
	require.Equal(t, ExitOK, code)
	assert.True(t, fr.cfg.UseFeed)
	assert.Equal(t, "feed", fr.cfg.Feed)
	assert.Equal(t, "2.0", fr.cfg.PackageVersion)

	code, _ = runCLI(t, &fakeRun{}, "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, ExitFatal, code)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, exitCode(nil))
	assert.Equal(t, ExitFatal, exitCode(errors.New("flag parse")))
	assert.Equal(t, ExitIncomplete, exitCode(&ExitError{Code: ExitIncomplete}))
	assert.Equal(t, "exit status 2", (&ExitError{Code: 2}).Error())
}
