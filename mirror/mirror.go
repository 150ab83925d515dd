// Package mirror keeps local mirror clones in sync with their remote
// source. Each repository entry is either cloned with `--mirror` when
// its local path does not exist yet or refreshed with `remote update`
// when it does, by running the configured git executable as a
// subprocess.
//
// Syncer is safe for concurrent use.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/utilitywarehouse/cgit-sync/cgitrepos"
	"github.com/utilitywarehouse/cgit-sync/internal/lock"
	"github.com/utilitywarehouse/cgit-sync/target"
)

// Action is the sync operation performed on a repository.
type Action string

const (
	// ActionCloned means a new mirror clone was created.
	ActionCloned Action = "cloned"
	// ActionUpdated means an existing mirror's refs were refreshed.
	ActionUpdated Action = "updated"
)

// Runner runs an external command and blocks until it exits, returning
// its exit status. The executor package provides the production
// implementation.
type Runner interface {
	Run(ctx context.Context, log *slog.Logger, envs []string, cwd string, command string, args ...string) (int, error)
}

// Config carries everything a Syncer needs to sync repositories.
// Values are fixed at construction, there is no ambient state.
type Config struct {
	// GitExec is the path of the git executable to invoke.
	GitExec string

	// Template produces the clone source address from a repository
	// entry's attributes.
	Template target.Template

	// Auth config to fetch remote repos
	Auth Auth

	// Envs is the base environment of every git subprocess, auth
	// variables are appended per repository.
	Envs []string
}

// Auth represents authentication config of the mirrored repositories
type Auth struct {
	// username to use for basic or token based authentication
	Username string `yaml:"username"`

	// password or personal access token to use for authentication
	Password string `yaml:"password"`

	// SSH Details
	// path to the ssh key used to fetch remote
	SSHKeyPath string `yaml:"ssh_key_path"`

	// path to the known hosts of the remote host
	SSHKnownHostsPath string `yaml:"ssh_known_hosts_path"`

	// Github APP Details
	// The application id or the client ID of the Github app
	GithubAppID string `yaml:"github_app_id"`
	// The installation id of the app (in the organization).
	GithubAppInstallationID string `yaml:"github_app_installation_id"`
	// path to the github app private key
	GithubAppPrivateKeyPath string `yaml:"github_app_private_key_path"`
}

// Syncer syncs mirror clones of repository entries.
type Syncer struct {
	gitExec string
	tmpl    target.Template
	auth    Auth
	envs    []string
	runner  Runner
	log     *slog.Logger

	lock                    lock.Mutex
	credsLoaderPath         string
	githubAppToken          string
	githubAppTokenExpiresAt time.Time
}

// New returns a Syncer for the given config.
func New(conf Config, runner Runner, log *slog.Logger) (*Syncer, error) {
	if log == nil {
		log = slog.Default()
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if conf.GitExec == "" {
		conf.GitExec = "git"
	}
	if conf.Template == "" {
		return nil, fmt.Errorf("target template cannot be empty")
	}

	return &Syncer{
		gitExec: conf.GitExec,
		tmpl:    conf.Template,
		auth:    conf.Auth,
		envs:    conf.Envs,
		runner:  runner,
		log:     log,
	}, nil
}

// Sync clones or updates the mirror of the given repository entry and
// returns the action it took. The entry must carry a `path` attribute
// naming the local mirror location: if nothing exists at that path the
// mirror is cloned, otherwise its remote refs are updated. A returned
// error only concerns this one repository.
func (s *Syncer) Sync(ctx context.Context, repo cgitrepos.Repo) (Action, error) {
	log := s.log.With("repo", repo.URL())

	source, err := s.tmpl.Resolve(repo)
	if err != nil {
		return "", fmt.Errorf("unable to resolve clone source: %w", err)
	}

	path := repo.Path()
	if path == "" {
		return "", fmt.Errorf("repo entry has no path attribute")
	}

	action := ActionUpdated
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("unable to check mirror path: %w", err)
		}
		action = ActionCloned
	}

	envs := append(slices.Clone(s.envs), s.authEnv(ctx, log, source)...)

	start := time.Now()
	defer updateSyncLatency(repo.URL(), start)

	var code int
	switch action {
	case ActionCloned:
		code, err = s.runner.Run(ctx, log, envs, "", s.gitExec, "clone", "--mirror", source, path)
	case ActionUpdated:
		code, err = s.runner.Run(ctx, log, envs, "", s.gitExec, "-C", path, "remote", "update")
	}
	recordGitSync(repo.URL(), string(action), err == nil)
	if err != nil {
		return action, fmt.Errorf("git exited with code %d: %w", code, err)
	}

	return action, nil
}

// SyncAll syncs every repository in the table in sorted url order and
// returns the number of repositories that failed. One repository's
// failure never prevents the rest from being attempted.
func (s *Syncer) SyncAll(ctx context.Context, repos cgitrepos.Repos) int {
	var failures int

	for _, url := range slices.Sorted(maps.Keys(repos)) {
		log := s.log.With("repo", url)

		action, err := s.Sync(ctx, repos[url])
		if err != nil {
			failures++
			if errors.Is(err, context.DeadlineExceeded) {
				log.Error("sync timed out", "err", err)
				continue
			}
			log.Error("unable to sync repository", "err", err)
			continue
		}

		log.Info("repository synced", "action", action)
	}

	return failures
}
