package main

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/utilitywarehouse/cgit-sync/mirror"
)

func Test_parseConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    *SyncConfig
		wantErr bool
	}{
		{
			"full",
			`
cgitrepos: /srv/cgitrepos
git_path: /usr/local/bin/git
timeout: 5m
provider: internal
providers:
  internal: "git@git.example.com:{url}.git"
push_gateway:
  url: http://pushgateway:9091
  job: mirrors
auth:
  ssh_key_path: /etc/git-secret/ssh
  ssh_known_hosts_path: /etc/git-secret/known_hosts
`,
			&SyncConfig{
				Cgitrepos: "/srv/cgitrepos",
				GitPath:   "/usr/local/bin/git",
				Timeout:   5 * time.Minute,
				Provider:  "internal",
				Providers: map[string]string{"internal": "git@git.example.com:{url}.git"},
				PushGateway: PushGatewayConfig{
					URL: "http://pushgateway:9091",
					Job: "mirrors",
				},
				Auth: mirror.Auth{
					SSHKeyPath:        "/etc/git-secret/ssh",
					SSHKnownHostsPath: "/etc/git-secret/known_hosts",
				},
			},
			false,
		},
		{"empty", "", &SyncConfig{}, false},
		{"unknown_key", "cgitrepos: /srv/cgitrepos\nretries: 3\n", nil, true},
		{"unknown_auth_key", "auth:\n  token: xyz\n", nil, true},
		{"not_yaml", "section = public", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseConfig([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseConfig() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_applyDefaults(t *testing.T) {
	conf := &SyncConfig{}
	conf.applyDefaults()

	want := &SyncConfig{
		Cgitrepos: "/etc/cgitrepos",
		GitPath:   "git",
		Timeout:   900 * time.Second,
		Provider:  "github",
		Providers: map[string]string{"github": "git@github.com:{url}.git"},
		PushGateway: PushGatewayConfig{
			Job: "cgit-sync",
		},
	}
	if diff := cmp.Diff(want, conf); diff != "" {
		t.Errorf("applyDefaults() mismatch (-want +got):\n%s", diff)
	}
}

func Test_applyDefaults_keepsUserProviders(t *testing.T) {
	conf := &SyncConfig{
		Providers: map[string]string{"github": "ssh://git@github.com/{url}.git"},
	}
	conf.applyDefaults()

	// a user supplied github entry is not replaced by the built-in one
	if got := conf.Providers["github"]; got != "ssh://git@github.com/{url}.git" {
		t.Errorf("github provider = %q, want user supplied template", got)
	}
}

func Test_validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SyncConfig)
		wantErr bool
	}{
		{"defaults_valid", func(conf *SyncConfig) {}, false},
		{"short_timeout", func(conf *SyncConfig) { conf.Timeout = 500 * time.Millisecond }, true},
		{"unknown_provider", func(conf *SyncConfig) { conf.Provider = "sourcehut" }, true},
		{
			"unknown_provider_with_template",
			func(conf *SyncConfig) {
				conf.Provider = "sourcehut"
				conf.Template = "git@example.com:{url}.git"
			},
			false,
		},
		{
			"partial_github_app",
			func(conf *SyncConfig) { conf.Auth.GithubAppID = "1234" },
			true,
		},
		{
			"full_github_app",
			func(conf *SyncConfig) {
				conf.Auth.GithubAppID = "1234"
				conf.Auth.GithubAppInstallationID = "5678"
				conf.Auth.GithubAppPrivateKeyPath = "/etc/git-secret/app.pem"
			},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := &SyncConfig{}
			conf.applyDefaults()
			tt.mutate(conf)
			if err := conf.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_targetTemplate(t *testing.T) {
	conf := &SyncConfig{}
	conf.applyDefaults()

	if got := conf.targetTemplate(); got != "git@github.com:{url}.git" {
		t.Errorf("targetTemplate() = %q, want github default", got)
	}

	// custom template wins over the provider registry
	conf.Template = "https://git.example.com/{url}"
	if got := conf.targetTemplate(); got != "https://git.example.com/{url}" {
		t.Errorf("targetTemplate() = %q, want custom template", got)
	}
}
