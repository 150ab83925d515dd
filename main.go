package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/urfave/cli/v3"
	"github.com/utilitywarehouse/cgit-sync/cgitrepos"
	"github.com/utilitywarehouse/cgit-sync/internal/executor"
	"github.com/utilitywarehouse/cgit-sync/mirror"
)

var version = "dev"

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Sources: cli.EnvVars("CGIT_SYNC_CONFIG"),
			Value:   "/etc/cgit-sync/config.yaml",
			Usage:   "Absolute path to the config file.",
		},
		&cli.StringFlag{
			Name:    "cgitrepos",
			Sources: cli.EnvVars("CGIT_SYNC_CGITREPOS"),
			Usage:   "Path to the cgit repository config file to sync from.",
		},
		&cli.StringFlag{
			Name:    "git",
			Aliases: []string{"g"},
			Sources: cli.EnvVars("CGIT_SYNC_GIT_PATH"),
			Usage:   "Name or path of the git executable.",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Sources: cli.EnvVars("CGIT_SYNC_TIMEOUT"),
			Usage:   "Wall clock limit of each git command.",
		},
		&cli.StringFlag{
			Name:    "pushgateway-url",
			Sources: cli.EnvVars("CGIT_SYNC_PUSHGATEWAY_URL"),
			Usage:   "Pushgateway to push sync metrics to after the run.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
		&cli.StringFlag{
			Name:    "log-file",
			Sources: cli.EnvVars("CGIT_SYNC_LOG_FILE"),
			Usage:   "Append logs to the given file instead of stderr.",
		},
	}

	// a custom template and a provider name cannot be combined
	exclusiveFlags = []cli.MutuallyExclusiveFlags{
		{
			Flags: [][]cli.Flag{
				{
					&cli.StringFlag{
						Name:    "template",
						Aliases: []string{"t"},
						Sources: cli.EnvVars("CGIT_SYNC_TEMPLATE"),
						Usage:   "Custom clone source template, eg. 'git@example.com:{url}.git'.",
					},
				},
				{
					&cli.StringFlag{
						Name:    "provider",
						Aliases: []string{"p"},
						Sources: cli.EnvVars("CGIT_SYNC_PROVIDER"),
						Usage:   "Name of the provider to take the clone source template from.",
					},
				},
			},
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func loadConfig(c *cli.Command) (*SyncConfig, error) {
	path := c.String("config")

	conf := &SyncConfig{}
	if _, err := os.Stat(path); err != nil {
		// a missing file at the default path is not an error,
		// built-in defaults apply
		if !os.IsNotExist(err) || c.IsSet("config") {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	} else {
		if conf, err = parseConfigFile(path); err != nil {
			return nil, err
		}
	}

	conf.applyFlagOverrides(c)
	conf.applyDefaults()

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// syncSections drives the whole run: sections sequentially, and within
// a section repositories sequentially. It returns the total number of
// repositories that failed to sync. A section absent from the config
// is only a warning, a structurally broken section aborts the run.
func syncSections(ctx context.Context, syncer *mirror.Syncer, cfgText string, sections []string) (int, error) {
	var failures int

	for _, section := range sections {
		log := logger.With("section", section)

		lines := cgitrepos.ExtractSection(cfgText, section)
		if len(lines) == 0 {
			log.Warn("section not found in cgitrepos config")
			continue
		}

		repos, err := cgitrepos.BuildRepos(lines)
		if err != nil {
			return failures, fmt.Errorf("unusable cgitrepos config in section '%s': %w", section, err)
		}

		log.Info("syncing section", "repos", len(repos))
		failures += syncer.SyncAll(ctx, repos)
	}

	return failures, nil
}

func pushMetrics(conf PushGatewayConfig, gatherer prometheus.Gatherer) {
	if err := push.New(conf.URL, conf.Job).Gatherer(gatherer).Push(); err != nil {
		logger.Error("unable to push metrics", "pushgateway", conf.URL, "err", err)
	}
}

func main() {
	cmd := &cli.Command{
		Name:      "cgit-sync",
		Usage:     "cgit-sync mirrors the repositories listed in a cgit config file.",
		ArgsUsage: "<section> [<section>...]",
		Version:   version,
		Flags:     flags,

		MutuallyExclusiveFlags: exclusiveFlags,

		Action: func(ctx context.Context, c *cli.Command) error {
			sections := c.Args().Slice()
			if len(sections) == 0 {
				return fmt.Errorf("at least one section name is required")
			}

			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}

			if logFile := c.String("log-file"); logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
				if err != nil {
					logger.Error("unable to open log file", "path", logFile, "err", err)
					os.Exit(1)
				}
				defer f.Close()
				logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{
					Level: loggerLevel,
				}))
			}

			conf, err := loadConfig(c)
			if err != nil {
				logger.Error("unable to load cgit-sync config", "err", err)
				os.Exit(1)
			}

			gitExec, err := exec.LookPath(conf.GitPath)
			if err != nil {
				logger.Error("git executable not found", "git", conf.GitPath, "err", err)
				os.Exit(1)
			}

			cgitText, err := os.ReadFile(conf.Cgitrepos)
			if err != nil {
				logger.Error("unable to read cgitrepos config file", "path", conf.Cgitrepos, "err", err)
				os.Exit(1)
			}

			var registry *prometheus.Registry
			if conf.PushGateway.URL != "" {
				registry = prometheus.NewRegistry()
				mirror.EnableMetrics("cgitsync", registry)
			}

			// child env is restricted to what git needs, auth vars
			// are appended per repository
			gitENV := []string{
				fmt.Sprintf("PATH=%s", os.Getenv("PATH")),
				fmt.Sprintf("HOME=%s", os.Getenv("HOME")),
			}

			runner := executor.New(conf.Timeout, logger.With("logger", "executor"))
			syncer, err := mirror.New(mirror.Config{
				GitExec:  gitExec,
				Template: conf.targetTemplate(),
				Auth:     conf.Auth,
				Envs:     gitENV,
			}, runner, logger.With("logger", "mirror"))
			if err != nil {
				logger.Error("unable to create syncer", "err", err)
				os.Exit(1)
			}

			failures, err := syncSections(ctx, syncer, string(cgitText), sections)

			if registry != nil {
				pushMetrics(conf.PushGateway, registry)
			}

			if err != nil {
				logger.Error("aborting run", "err", err)
				os.Exit(1)
			}

			if failures > 0 {
				return cli.Exit(fmt.Sprintf("%d repositories failed to sync", failures), failures)
			}
			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err == nil {
		return
	}

	// the aggregate failure count is the process exit code
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		logger.Error(exitErr.Error())
		os.Exit(exitErr.ExitCode())
	}

	logger.Error("failed to run app", "err", err)
	os.Exit(1)
}
