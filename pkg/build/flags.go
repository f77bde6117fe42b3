// SPDX-License-Identifier: MIT

//
// Package build exposes metadata embedded at link time, for example:
//
//	go build -ldflags "-X audiopipe/pkg/build.buildVersion=0.3.0 \
//	  -X audiopipe/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X audiopipe/pkg/build.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Development builds carry no ldflags and report "dev" values.
package build

import (
	"errors"
	"fmt"
)

const (
	defaultName        = "audiopipe"
	defaultDescription = "Real-time audio capture and distribution pipeline"
)

// Info describes the running binary.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String formats the info for --version output.
func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.Commit, i.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildInfo    = Info{
		Name:        defaultName,
		Description: defaultDescription,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
)

// Initialize copies the ldflags values into the build info. Missing values
// keep their development defaults and are reported together in the
// returned error, which callers may treat as a warning.
func Initialize() error {
	var errs []error
	set := func(dst *string, v, flag string) {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is not set", flag))
			return
		}
		*dst = v
	}
	if buildName != "" {
		buildInfo.Name = buildName
	}
	set(&buildInfo.Time, buildTime, "buildTime")
	set(&buildInfo.Commit, buildCommit, "buildCommit")
	set(&buildInfo.Version, buildVersion, "buildVersion")
	return errors.Join(errs...)
}

// Get returns a copy of the build info.
func Get() Info {
	return buildInfo
}
