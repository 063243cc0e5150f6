// Package contract checks cross-repository drift in declared interface
// touchpoints. Each repo plan declares the endpoints it expects to touch;
// alignment compares declarations for shared endpoints and reports issues.
package contract

import (
	"context"
	"fmt"
	"sort"
)

// Severity of a contract issue. Blocking issues force the round toward HITL.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

// Fields maps field names to their declared types.
type Fields map[string]string

// Method declares the request and response shape of one endpoint method.
type Method struct {
	Request  Fields `json:"request,omitempty"`
	Response Fields `json:"response,omitempty"`
}

// Touchpoint is one endpoint a repo plan expects to touch.
type Touchpoint struct {
	Endpoint string            `json:"endpoint"`
	Methods  map[string]Method `json:"methods"`
}

// Issue is a detected cross-repo contract mismatch.
type Issue struct {
	Severity    Severity `json:"severity"`
	Endpoint    string   `json:"endpoint"`
	Repos       []string `json:"repos"`
	Description string   `json:"description"`
}

// Blocking reports whether any issue has blocking severity.
func Blocking(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// Checker is the pluggable contract-alignment capability.
type Checker interface {
	Check(ctx context.Context, declared map[string][]Touchpoint) ([]Issue, error)
}

// DiffChecker compares touchpoint declarations field by field. Output
// ordering is deterministic: endpoints, methods, and fields are sorted.
type DiffChecker struct{}

// NewDiffChecker creates a DiffChecker.
func NewDiffChecker() *DiffChecker {
	return &DiffChecker{}
}

// Check implements Checker.
func (c *DiffChecker) Check(_ context.Context, declared map[string][]Touchpoint) ([]Issue, error) {
	// endpoint -> repo -> methods
	byEndpoint := make(map[string]map[string]map[string]Method)
	for repo, touchpoints := range declared {
		for _, tp := range touchpoints {
			if byEndpoint[tp.Endpoint] == nil {
				byEndpoint[tp.Endpoint] = make(map[string]map[string]Method)
			}
			byEndpoint[tp.Endpoint][repo] = tp.Methods
		}
	}

	endpoints := make([]string, 0, len(byEndpoint))
	for ep := range byEndpoint {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	var issues []Issue
	for _, ep := range endpoints {
		repoMethods := byEndpoint[ep]
		if len(repoMethods) < 2 {
			continue
		}
		repos := make([]string, 0, len(repoMethods))
		for repo := range repoMethods {
			repos = append(repos, repo)
		}
		sort.Strings(repos)

		// Pairwise against the first declaring repo keeps the comparison
		// deterministic without quadratic noise in the report.
		base := repoMethods[repos[0]]
		for _, other := range repos[1:] {
			issues = append(issues, diffMethods(ep, repos[0], other, base, repoMethods[other])...)
		}
	}
	return issues, nil
}

func diffMethods(endpoint, baseRepo, otherRepo string, base, other map[string]Method) []Issue {
	var issues []Issue
	pair := []string{baseRepo, otherRepo}

	methods := make(map[string]bool)
	for m := range base {
		methods[m] = true
	}
	for m := range other {
		methods[m] = true
	}
	names := make([]string, 0, len(methods))
	for m := range methods {
		names = append(names, m)
	}
	sort.Strings(names)

	for _, m := range names {
		baseSpec, inBase := base[m]
		otherSpec, inOther := other[m]
		if !inBase || !inOther {
			missing := otherRepo
			if !inBase {
				missing = baseRepo
			}
			issues = append(issues, Issue{
				Severity:    SeverityWarning,
				Endpoint:    endpoint,
				Repos:       pair,
				Description: fmt.Sprintf("%s %s is not declared by %s", m, endpoint, missing),
			})
			continue
		}
		issues = append(issues, diffFields(endpoint, m, "request", pair, baseSpec.Request, otherSpec.Request)...)
		issues = append(issues, diffFields(endpoint, m, "response", pair, baseSpec.Response, otherSpec.Response)...)
	}
	return issues
}

func diffFields(endpoint, method, location string, repos []string, base, other Fields) []Issue {
	var issues []Issue

	names := make(map[string]bool)
	for f := range base {
		names[f] = true
	}
	for f := range other {
		names[f] = true
	}
	sorted := make([]string, 0, len(names))
	for f := range names {
		sorted = append(sorted, f)
	}
	sort.Strings(sorted)

	for _, f := range sorted {
		baseType, inBase := base[f]
		otherType, inOther := other[f]
		switch {
		case inBase && !inOther:
			issues = append(issues, Issue{
				Severity:    SeverityBlocking,
				Endpoint:    endpoint,
				Repos:       repos,
				Description: fmt.Sprintf("%s %s field %q missing from %s declaration", method, location, f, repos[1]),
			})
		case !inBase && inOther:
			issues = append(issues, Issue{
				Severity:    SeverityWarning,
				Endpoint:    endpoint,
				Repos:       repos,
				Description: fmt.Sprintf("%s %s field %q only declared by %s", method, location, f, repos[1]),
			})
		case baseType != otherType:
			issues = append(issues, Issue{
				Severity:    SeverityBlocking,
				Endpoint:    endpoint,
				Repos:       repos,
				Description: fmt.Sprintf("%s %s field %q type mismatch: %s vs %s", method, location, f, baseType, otherType),
			})
		}
	}
	return issues
}
