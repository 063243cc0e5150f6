// Package inspect collects repository signals used as planning constraints.
// Inspection never fails a round: missing paths and unknown layouts are
// recorded as signals, not errors.
package inspect

import (
	"context"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Constraints holds the signals collected from a single repository.
type Constraints struct {
	Repo        string            `json:"repo"`
	Exists      bool              `json:"exists"`
	RepoType    string            `json:"repo_type"`
	Signals     []string          `json:"signals,omitempty"`
	Constraints []string          `json:"constraints,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// markerTypes maps build-system marker files to a repository type.
var markerTypes = []struct {
	pattern  string
	repoType string
}{
	{"go.mod", "go"},
	{"package.json", "node"},
	{"pyproject.toml", "python"},
	{"setup.py", "python"},
	{"Cargo.toml", "rust"},
	{"pom.xml", "java"},
	{"build.gradle*", "java"},
}

// signalPatterns are glob patterns whose matches become planning signals.
var signalPatterns = []struct {
	pattern string
	signal  string
}{
	{"**/openapi*.{json,yaml,yml}", "declares an OpenAPI contract"},
	{"**/*.proto", "declares protobuf interfaces"},
	{"**/Dockerfile", "containerized"},
	{"**/.github/workflows/*.{yaml,yml}", "has CI workflows"},
	{"**/migrations/**", "owns database migrations"},
}

// Inspector gathers constraints for the repos a task names.
type Inspector struct{}

// New creates an Inspector.
func New() *Inspector {
	return &Inspector{}
}

// Inspect collects constraints for one repository path.
func (i *Inspector) Inspect(ctx context.Context, repoPath string) Constraints {
	c := Constraints{
		Repo:     repoPath,
		RepoType: "unknown",
		Metadata: map[string]string{},
	}

	info, err := os.Stat(repoPath)
	if err != nil || !info.IsDir() {
		c.Constraints = append(c.Constraints, "repository path does not exist")
		return c
	}
	c.Exists = true

	fsys := os.DirFS(repoPath)

	for _, m := range markerTypes {
		matches, err := doublestar.Glob(fsys, m.pattern)
		if err == nil && len(matches) > 0 {
			c.RepoType = m.repoType
			c.Metadata["marker"] = matches[0]
			break
		}
	}

	for _, s := range signalPatterns {
		if ctx.Err() != nil {
			break
		}
		matches, err := doublestar.Glob(fsys, s.pattern)
		if err == nil && len(matches) > 0 {
			c.Signals = append(c.Signals, s.signal)
		}
	}
	sort.Strings(c.Signals)

	if c.RepoType == "unknown" {
		c.Constraints = append(c.Constraints, "repository type could not be detected")
	}
	return c
}

// InspectAll collects constraints for every repo, preserving input order.
func (i *Inspector) InspectAll(ctx context.Context, repos []string) []Constraints {
	out := make([]Constraints, 0, len(repos))
	for _, repo := range repos {
		out = append(out, i.Inspect(ctx, repo))
	}
	return out
}
