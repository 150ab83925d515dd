package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/utilitywarehouse/cgit-sync/auth"
	"github.com/utilitywarehouse/cgit-sync/giturl"
)

const loadCredsScript = `#!/bin/sh

case "$1" in
  Username*) echo "$REPO_USERNAME" ;;
  Password*) echo "$REPO_PASSWORD" ;;
esac
`

// authEnv returns the env vars the git subprocess needs to
// authenticate against the given clone source, picked by the source's
// url scheme. Auth setup failures are logged and result in no auth
// env, git itself then reports the access error for the repo.
func (s *Syncer) authEnv(ctx context.Context, log *slog.Logger, source string) []string {
	if giturl.IsSCPURL(source) || giturl.IsSSHURL(source) {
		return []string{s.gitSSHCommand()}
	}

	// if url not ssh or https nothing to set
	if !giturl.IsHTTPSURL(source) {
		return nil
	}

	var username, password string
	switch {
	// if username & password is set use that
	case s.auth.Username != "" && s.auth.Password != "":
		username = s.auth.Username
		password = s.auth.Password

	// if only password (token) is set use that
	case s.auth.Password != "":
		username = "-" // username is required
		password = s.auth.Password

	case s.auth.GithubAppInstallationID != "":
		gURL, err := giturl.Parse(source)
		if err != nil || gURL.Host != "github.com" {
			return nil
		}
		// github matches repo name without `.git` for permission for token req
		token, err := s.getGithubAppToken(ctx, strings.TrimSuffix(gURL.Repo, ".git"))
		if err != nil {
			log.Error("unable to get github app token", "err", err)
			return nil
		}
		username = "-" // username is required
		password = token

	default:
		return nil
	}

	credsLoader, err := s.ensureCredsLoader()
	if err != nil {
		log.Error("unable to write load creds script file", "err", err)
		return nil
	}

	return []string{
		fmt.Sprintf(`GIT_ASKPASS=%s`, credsLoader),
		fmt.Sprintf(`REPO_USERNAME=%s`, username),
		fmt.Sprintf(`REPO_PASSWORD=%s`, password),
	}
}

// ensureCredsLoader writes the GIT_ASKPASS helper script once per
// Syncer and returns its path.
func (s *Syncer) ensureCredsLoader() (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.credsLoaderPath != "" {
		return s.credsLoaderPath, nil
	}

	dir, err := os.MkdirTemp("", "cgit-sync")
	if err != nil {
		return "", fmt.Errorf("unable to create dir for creds loader script err:%w", err)
	}

	credsLoader := filepath.Join(dir, "cgit-sync-creds-loader.sh")
	if err := os.WriteFile(credsLoader, []byte(loadCredsScript), 0750); err != nil {
		return "", err
	}

	s.credsLoaderPath = credsLoader
	return credsLoader, nil
}

// gitSSHCommand returns the environment variable to be used for configuring
// git over ssh.
func (s *Syncer) gitSSHCommand() string {
	sshKeyPath := s.auth.SSHKeyPath
	if sshKeyPath == "" {
		sshKeyPath = "/dev/null"
	}
	knownHostsOptions := "-o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no"
	if s.auth.SSHKeyPath != "" && s.auth.SSHKnownHostsPath != "" {
		knownHostsOptions = fmt.Sprintf("-o UserKnownHostsFile=%s", s.auth.SSHKnownHostsPath)
	}
	return fmt.Sprintf(`GIT_SSH_COMMAND=ssh -q -F none -o IdentitiesOnly=yes -o IdentityFile=%s %s`, sshKeyPath, knownHostsOptions)
}

func (s *Syncer) getGithubAppToken(ctx context.Context, repo string) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	// return token if current token is valid for next 10 min
	if s.githubAppTokenExpiresAt.After(time.Now().UTC().Add(10 * time.Minute)) {
		return s.githubAppToken, nil
	}

	permissions := auth.GithubAppTokenReqPermissions{
		Repositories: []string{repo},
		Permissions:  map[string]string{"contents": "read"},
	}

	token, err := auth.GithubAppInstallationToken(ctx,
		s.auth.GithubAppID, s.auth.GithubAppInstallationID, s.auth.GithubAppPrivateKeyPath,
		permissions)
	if err != nil {
		return "", err
	}

	s.githubAppToken = token.Token
	s.githubAppTokenExpiresAt = token.ExpiresAt

	s.log.Debug("new github app access token created")

	return s.githubAppToken, nil
}
