// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
)

// compiledPattern holds an allowlist pattern with its compiled glob.
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// OriginPolicy restricts which bundle URLs a host will load.
// An empty policy allows every origin.
type OriginPolicy struct {
	patterns []compiledPattern
}

// NewOriginPolicy compiles an allowlist of bundle URL glob patterns,
// e.g. "https://plugins.example.com/**". Compilation fails on the first
// invalid pattern.
func NewOriginPolicy(patterns []string) (*OriginPolicy, error) {
	compiled := make([]compiledPattern, len(patterns))
	for i, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid bundle origin pattern %q: %w", p, err)
		}
		compiled[i] = compiledPattern{pattern: p, glob: g}
	}
	return &OriginPolicy{patterns: compiled}, nil
}

// Check returns a security-kind error when url matches no allowed pattern.
func (p *OriginPolicy) Check(url string) error {
	if p == nil || len(p.patterns) == 0 {
		return nil
	}
	for _, cp := range p.patterns {
		if cp.glob.Match(url) {
			return nil
		}
	}
	return NewError(KindSecurity, "bundle URL is not in the allowed origin list").
		WithDetail("url", url)
}

// CheckEngine verifies the metadata's engine constraint (if any) against
// the host engine version. An unsatisfied or malformed constraint is a
// compatibility-kind error.
func CheckEngine(hostVersion, constraint string) error {
	if constraint == "" {
		return nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return WrapError(KindCompatibility, "invalid engine constraint", err).
			WithDetail("constraint", constraint)
	}

	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return WrapError(KindCompatibility, "invalid host engine version", err).
			WithDetail("host_version", hostVersion)
	}

	if !c.Check(v) {
		return NewError(KindCompatibility,
			fmt.Sprintf("plugin requires engine %s, host is %s", constraint, hostVersion)).
			WithDetail("constraint", constraint).
			WithDetail("host_version", hostVersion)
	}
	return nil
}
