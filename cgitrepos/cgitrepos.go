// Package cgitrepos extracts repository entries from cgit style
// repository configuration files.
//
// The format is line oriented: a `section = <name>` line opens a named
// group of repositories, a `repo.url = <value>` line starts a new
// repository entry within the group and `repo.<key> = <value>` lines
// attach attributes to it. Every other line (comments, blank lines,
// global cgit settings) is ignored.
// format ref: https://git.zx2c4.com/cgit/tree/cgitrc.5.txt
package cgitrepos

import (
	"fmt"
	"strings"
)

// ErrMalformedLine is returned when a repo attribute line has no "=".
var ErrMalformedLine = fmt.Errorf("malformed repo attribute line")

// Repo holds the attributes of a single repository entry. A finalised
// entry always carries a non-empty "url" attribute, everything else is
// optional free-form cgit metadata.
type Repo map[string]string

// URL returns the repository identifier from the config file.
func (r Repo) URL() string { return r["url"] }

// Path returns the local mirror path of the repository, empty if not set.
func (r Repo) Path() string { return r["path"] }

// Repos maps a repository url to its attributes. When the same url
// appears more than once in a section the last full entry wins.
type Repos map[string]Repo

// ExtractSection returns the trimmed lines of the named section,
// including the matched `section = <name>` marker line itself.
// Collection starts at the first marker whose value matches name
// exactly and stops at the next section marker regardless of its name,
// so duplicate declarations of the same section are ignored. It
// returns nil when the section does not exist.
func ExtractSection(cfg, section string) []string {
	var lines []string
	var collecting bool

	for _, line := range strings.Split(cfg, "\n") {
		line = strings.TrimSpace(line)

		name, marker := sectionName(line)
		if collecting {
			if marker {
				break
			}
			lines = append(lines, line)
			continue
		}
		if marker && name == section {
			collecting = true
			lines = append(lines, line)
		}
	}

	return lines
}

// sectionName returns the value of a `section = <name>` marker line
// and reports whether the trimmed line is a marker at all. Whitespace
// around the "=" is optional.
func sectionName(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "section")
	if !ok {
		return "", false
	}
	value, ok := strings.CutPrefix(strings.TrimLeft(rest, " \t"), "=")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// BuildRepos groups a section's lines into repository entries. A
// `repo.url` line finalises the entry being built and starts a new
// one, any other `repo.<key>` line sets an attribute on the current
// entry, the rest of the lines are skipped. Entries that never get a
// non-empty url are dropped. It returns ErrMalformedLine wrapped with
// the offending line when a repo attribute line cannot be split on "=".
func BuildRepos(lines []string) (Repos, error) {
	repos := Repos{}
	current := Repo{}

	for _, line := range lines {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "repo.")
		if !ok {
			continue
		}
		key, value, found := strings.Cut(rest, "=")
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		if key != "url" {
			current[key] = value
			continue
		}
		if current.URL() != "" {
			repos[current.URL()] = current
		}
		current = Repo{"url": value}
	}

	if current.URL() != "" {
		repos[current.URL()] = current
	}

	return repos, nil
}
