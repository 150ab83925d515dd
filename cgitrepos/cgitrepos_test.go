package cgitrepos

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testConfig = `# cgit configuration
cache-size=1000
enable-index-owner=0

section = public
repo.url = org/one
repo.path = /data/one
repo.desc = first repo

repo.url = org/two
repo.path = /data/two

section = mixed
repo.url = org/three
repo.owner = infra

section = public
repo.url = org/ignored
repo.path = /data/ignored

section=compact
repo.url=org/four
`

func TestExtractSection(t *testing.T) {
	tests := []struct {
		name    string
		cfg     string
		section string
		want    []string
	}{
		{
			"first_section", testConfig, "public",
			[]string{
				"section = public",
				"repo.url = org/one",
				"repo.path = /data/one",
				"repo.desc = first repo",
				"",
				"repo.url = org/two",
				"repo.path = /data/two",
				"",
			},
		},
		{
			"middle_section", testConfig, "mixed",
			[]string{
				"section = mixed",
				"repo.url = org/three",
				"repo.owner = infra",
				"",
			},
		},
		{
			"no_space_marker", testConfig, "compact",
			[]string{
				"section=compact",
				"repo.url=org/four",
			},
		},
		{"absent_section", testConfig, "missing", nil},
		{"case_sensitive", testConfig, "Public", nil},
		{"empty_config", "", "public", nil},
		{
			"indented_marker",
			"   section = padded   \n  repo.url = org/p  \n",
			"padded",
			[]string{"section = padded", "repo.url = org/p"},
		},
		{
			"marker_like_lines_collected",
			"section = a\nsections = not-a-marker\nsectionfoo=x\nsection\nsection = b\nrepo.url = late\n",
			"a",
			[]string{"section = a", "sections = not-a-marker", "sectionfoo=x", "section"},
		},
		{
			"stops_at_any_marker",
			"section = a\nrepo.url = one\nsection = a\nrepo.url = two\n",
			"a",
			[]string{"section = a", "repo.url = one"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSection(tt.cfg, tt.section)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractSection() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildRepos(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		want    Repos
		wantErr bool
	}{
		{
			"two_repos",
			[]string{
				"section = foo",
				"repo.url = org/one",
				"repo.path = /data/one",
				"",
				"repo.url = org/two",
				"repo.path = /data/two",
			},
			Repos{
				"org/one": {"url": "org/one", "path": "/data/one"},
				"org/two": {"url": "org/two", "path": "/data/two"},
			},
			false,
		},
		{
			"attribute_overwrite",
			[]string{"repo.url = org/one", "repo.path = /old", "repo.path = /new"},
			Repos{"org/one": {"url": "org/one", "path": "/new"}},
			false,
		},
		{
			"duplicate_url_last_wins",
			[]string{
				"repo.url = org/one",
				"repo.path = /first",
				"repo.url = org/one",
				"repo.desc = second take",
			},
			Repos{"org/one": {"url": "org/one", "desc": "second take"}},
			false,
		},
		{
			"value_contains_equals",
			[]string{"repo.url = org/one", "repo.desc = a = b = c"},
			Repos{"org/one": {"url": "org/one", "desc": "a = b = c"}},
			false,
		},
		{
			"dotted_attribute_key",
			[]string{"repo.url = org/one", "repo.extra.note = hi"},
			Repos{"org/one": {"url": "org/one", "extra.note": "hi"}},
			false,
		},
		{
			"empty_url_never_committed",
			[]string{"repo.url =", "repo.path = /data/lost"},
			Repos{},
			false,
		},
		{
			"attributes_before_first_url_dropped",
			[]string{"repo.path = /data/early", "repo.url = org/one"},
			Repos{"org/one": {"url": "org/one"}},
			false,
		},
		{
			"non_repo_lines_ignored",
			[]string{"section = foo", "# comment", "", "cache-size=1", "repository.url = x"},
			Repos{},
			false,
		},
		{"no_lines", nil, Repos{}, false},
		{"malformed_attribute", []string{"repo.url = org/one", "repo.path /data/one"}, nil, true},
		{"bare_repo_url", []string{"repo.url"}, nil, true},
		{"bare_repo_prefix", []string{"repo."}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildRepos(tt.lines)
			if (err != nil) != tt.wantErr {
				t.Errorf("BuildRepos() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				if !errors.Is(err, ErrMalformedLine) {
					t.Errorf("BuildRepos() error = %v, want ErrMalformedLine", err)
				}
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildRepos() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildRepos_deterministic(t *testing.T) {
	lines := ExtractSection(testConfig, "public")

	first, err := BuildRepos(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := BuildRepos(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("BuildRepos() not deterministic (-first +second):\n%s", diff)
	}
}
