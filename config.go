package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/utilitywarehouse/cgit-sync/internal/executor"
	"github.com/utilitywarehouse/cgit-sync/mirror"
	"github.com/utilitywarehouse/cgit-sync/target"
	"gopkg.in/yaml.v3"
)

const (
	defaultCgitreposPath = "/etc/cgitrepos"
	defaultGitPath       = "git"
	defaultProvider      = "github"
	defaultPushJob       = "cgit-sync"

	githubTemplate = "git@github.com:{url}.git"
)

// SyncConfig is the tool's own config file. Everything in it can also
// be set (and overridden) through flags or env vars.
type SyncConfig struct {
	// Cgitrepos is the path of the cgit repository config file to read
	Cgitrepos string `yaml:"cgitrepos"`

	// GitPath is the name or path of the git executable
	GitPath string `yaml:"git_path"`

	// Timeout is the wall clock limit of each git command
	Timeout time.Duration `yaml:"timeout"`

	// Provider selects the clone source template from Providers
	Provider string `yaml:"provider"`

	// Template is a custom clone source template, it wins over Provider
	Template string `yaml:"template"`

	// Providers maps a provider name to its clone source template
	Providers map[string]string `yaml:"providers"`

	// PushGateway configures the post-run metrics push
	PushGateway PushGatewayConfig `yaml:"push_gateway"`

	// Auth config to fetch remote repos
	Auth mirror.Auth `yaml:"auth"`
}

// PushGatewayConfig is the prometheus pushgateway delivery config,
// an empty url disables the push.
type PushGatewayConfig struct {
	URL string `yaml:"url"`
	Job string `yaml:"job"`
}

func parseConfigFile(path string) (*SyncConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseConfig(yamlFile)
}

func parseConfig(yamlData []byte) (*SyncConfig, error) {
	conf := &SyncConfig{}
	decoder := yaml.NewDecoder(bytes.NewReader(yamlData))
	// reject unexpected keys
	decoder.KnownFields(true)
	if err := decoder.Decode(conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyFlagOverrides copies flags the user actually set over the file
// values, flags win over the config file.
func (conf *SyncConfig) applyFlagOverrides(c *cli.Command) {
	if c.IsSet("cgitrepos") {
		conf.Cgitrepos = c.String("cgitrepos")
	}
	if c.IsSet("git") {
		conf.GitPath = c.String("git")
	}
	if c.IsSet("timeout") {
		conf.Timeout = c.Duration("timeout")
	}
	if c.IsSet("provider") {
		conf.Provider = c.String("provider")
	}
	if c.IsSet("template") {
		conf.Template = c.String("template")
	}
	if c.IsSet("pushgateway-url") {
		conf.PushGateway.URL = c.String("pushgateway-url")
	}
}

func (conf *SyncConfig) applyDefaults() {
	if conf.Cgitrepos == "" {
		conf.Cgitrepos = defaultCgitreposPath
	}

	if conf.GitPath == "" {
		conf.GitPath = defaultGitPath
	}

	if conf.Timeout == 0 {
		conf.Timeout = executor.DefaultTimeout
	}

	if conf.Provider == "" {
		conf.Provider = defaultProvider
	}

	// user entries extend/override the built-in registry
	if conf.Providers == nil {
		conf.Providers = map[string]string{}
	}
	if _, ok := conf.Providers[defaultProvider]; !ok {
		conf.Providers[defaultProvider] = githubTemplate
	}

	if conf.PushGateway.Job == "" {
		conf.PushGateway.Job = defaultPushJob
	}
}

// validate will verify the config, it assumes defaults are already
// applied.
func (conf *SyncConfig) validate() error {
	var errs []error

	if conf.Timeout < time.Second {
		errs = append(errs, fmt.Errorf("provided git timeout is too short (%s), must be >= 1s", conf.Timeout))
	}

	if conf.Template == "" {
		if _, ok := conf.Providers[conf.Provider]; !ok {
			errs = append(errs, fmt.Errorf("unknown provider '%s', no template registered for it", conf.Provider))
		}
	}

	// if any of the github app config is set all should be set
	if conf.Auth.GithubAppID != "" ||
		conf.Auth.GithubAppInstallationID != "" ||
		conf.Auth.GithubAppPrivateKeyPath != "" {
		if conf.Auth.GithubAppID == "" ||
			conf.Auth.GithubAppInstallationID == "" ||
			conf.Auth.GithubAppPrivateKeyPath == "" {
			errs = append(errs, fmt.Errorf("all of the Github app attribute is required"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", errs)
	}

	return nil
}

// targetTemplate returns the clone source template of the run, the
// custom template if given, the selected provider's otherwise.
func (conf *SyncConfig) targetTemplate() target.Template {
	if conf.Template != "" {
		return target.Template(conf.Template)
	}
	return target.Template(conf.Providers[conf.Provider])
}
