package main

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
	"github.com/k8ika0s/fabric-env-publisher/internal/library"
	"github.com/k8ika0s/fabric-env-publisher/internal/service"
)

// runFunc performs one publish; replaced in tests.
type runFunc func(ctx context.Context, cfg service.Config, logger *log.Logger) (service.Outcome, error)

type flagSpec struct {
	key   string
	def   string
	usage string
}

var stringFlags = []flagSpec{
	{service.KeyEnvironment, "", "environment display name"},
	{service.KeyWorkspace, "", "workspace display name"},
	{service.KeyAccessToken, "", "Fabric bearer token"},
	{service.KeyPackageName, "", "package to publish"},
	{service.KeyPackageVersion, "", "package version (latest listed when empty)"},
	{service.KeyFeedToken, "", "Azure DevOps personal access token"},
	{service.KeyOrganization, "", "Azure DevOps organization"},
	{service.KeyProject, "", "Azure DevOps project"},
	{service.KeyFeed, "", "Azure DevOps Artifacts feed"},
	{service.KeyFeedURL, "", "simple-index root overriding the DevOps feed url"},
	{service.KeyWheelURL, "", "direct wheel url, used when --is-devops=false"},
	{service.KeyDownloadDir, ".", "directory the wheel is downloaded to"},
	{service.KeyFabricURL, fabric.DefaultBaseURL, "Fabric REST API base url"},
	{service.KeyDescription, "", "description of a newly created environment"},
	{service.KeyPublishTimeout, "", "publish wait timeout (default 20m)"},
	{service.KeyPollInterval, "", "publish poll interval (default 1m)"},
	{service.KeySettleDelay, "", "pause after removing an old version (default 5s)"},
	{service.KeyLogLevel, "info", "debug, info, warn or error"},
}

func newRootCmd(v *viper.Viper, run runFunc, stderr io.Writer) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:           "fabric-publisher",
		Short:         "Publish a custom Python wheel to a Microsoft Fabric environment",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				if err := service.ReadFile(v, configFile); err != nil {
					newLogger(stderr, "info").Error("load configuration", "err", err)
					return &ExitError{Code: ExitFatal, Err: err}
				}
			}
			logger := newLogger(stderr, v.GetString(service.KeyLogLevel))
			cfg, err := service.FromViper(v)
			if err != nil {
				logger.Error("invalid configuration", "err", err)
				return &ExitError{Code: ExitFatal, Err: err}
			}
			if err := cfg.Validate(); err != nil {
				logger.Error("invalid configuration", "err", err)
				return &ExitError{Code: ExitFatal, Err: err}
			}
			out, err := run(cmd.Context(), cfg, logger)
			if err != nil {
				logFatal(logger, err)
				return &ExitError{Code: ExitFatal, Err: err}
			}
			return report(logger, out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	for _, f := range stringFlags {
		flags.String(f.key, f.def, f.usage)
	}
	flags.Bool(service.KeyUseFeed, true, "resolve the wheel from the Azure DevOps feed")
	flags.Bool(service.KeyDeleteWheel, false, "delete the local wheel after a successful upload")
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name != "config" {
			_ = v.BindPFlag(f.Name, f)
		}
	})
	cmd.AddCommand(newHistoryCmd(v, openPostgres))
	return cmd
}

func newLogger(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{Prefix: "fabric-publisher", ReportTimestamp: true})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func logFatal(logger *log.Logger, err error) {
	var se *library.StepError
	if errors.As(err, &se) {
		logger.Error("run aborted", "step", se.Step, "status", fabric.StatusCode(err), "err", se.Err)
		return
	}
	logger.Error("run aborted", "err", err)
}

// report logs the outcome and turns an incomplete run into ExitIncomplete.
func report(logger *log.Logger, out service.Outcome) error {
	res := out.Result
	logger.Info("run finished",
		"run", out.RunID,
		"environment", res.Environment.DisplayName,
		"file", res.Artifact,
		"uploaded", res.Uploaded,
		"status", string(res.Status))
	if res.Complete() {
		return nil
	}
	err := res.UploadErr
	if err == nil {
		err = res.PublishErr
	}
	if err == nil {
		err = errors.New(string(res.Status))
	}
	return &ExitError{Code: ExitIncomplete, Err: err}
}

func execute(ctx context.Context, args []string, stderr io.Writer) int {
	cmd := newRootCmd(service.NewViper(), service.Run, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	var ee *ExitError
	if err != nil && !errors.As(err, &ee) {
		cmd.PrintErrln("Error:", err)
	}
	return exitCode(err)
}
