// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version houses the version information of umbrad.
package version

import (
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
)

// semverRE parses a semantic version string into its constituent parts.
var semverRE = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*` +
	`[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// Version is the application version per the semantic versioning 2.0.0 spec
// (https://semver.org/).
//
// It is defined as a variable so it can be overridden during the build process
// with:
// '-ldflags "-X github.com/umbranet/umbrad/internal/version.Version=fullsemver"'
//
// It MUST be a full semantic version or the package will panic at runtime.
var Version = "0.1.0-pre"

// SemVer houses the components of a semantic version.
type SemVer struct {
	Major         uint
	Minor         uint
	Patch         uint
	PreRelease    string
	BuildMetadata string
}

// String returns the semantic version string of the components.
func (v SemVer) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		b.WriteString("-")
		b.WriteString(v.PreRelease)
	}
	if v.BuildMetadata != "" {
		b.WriteString("+")
		b.WriteString(v.BuildMetadata)
	}
	return b.String()
}

// Parse parses the passed semantic version string.
func Parse(s string) (SemVer, error) {
	m := semverRE.FindStringSubmatch(s)
	if m == nil {
		return SemVer{}, fmt.Errorf("malformed version string %q: does not "+
			"conform to semver specification", s)
	}

	var nums [3]uint
	for i, name := range []string{"major", "minor", "patch"} {
		val, err := strconv.ParseUint(m[i+1], 10, 0)
		if err != nil {
			return SemVer{}, fmt.Errorf("malformed semver %s: %w", name, err)
		}
		nums[i] = uint(val)
	}

	return SemVer{
		Major:         nums[0],
		Minor:         nums[1],
		Patch:         nums[2],
		PreRelease:    m[4],
		BuildMetadata: m[5],
	}, nil
}

// parsed holds the components of Version.
var parsed SemVer

func init() {
	var err error
	parsed, err = Parse(Version)
	if err != nil {
		panic(err)
	}
}

// Current returns the parsed components of Version.
func Current() SemVer {
	return parsed
}

// String returns the application version.  Builds from a version control
// checkout without build metadata carry the abbreviated commit id as their
// build metadata.
func String() string {
	v := parsed
	if v.BuildMetadata == "" {
		v.BuildMetadata = vcsCommitID()
	}
	return v.String()
}

// vcsCommitID returns the abbreviated revision the binary was built from, or
// an empty string when it was not built from a version control checkout.
func vcsCommitID() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var vcs, revision string
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs":
			vcs = bs.Value
		case "vcs.revision":
			revision = bs.Value
		}
	}
	if vcs == "" {
		return ""
	}
	if vcs == "git" && len(revision) > 9 {
		revision = revision[:9]
	}
	return revision
}
