// SPDX-License-Identifier: MIT
package build

import (
	"os"
	"strings"
	"testing"
)

var (
	origName    string
	origTime    string
	origCommit  string
	origVersion string
	origInfo    Info
)

func TestMain(m *testing.M) {
	origName, origTime, origCommit, origVersion = buildName, buildTime, buildCommit, buildVersion
	origInfo = buildInfo

	exitCode := m.Run()

	buildName, buildTime, buildCommit, buildVersion = origName, origTime, origCommit, origVersion
	buildInfo = origInfo
	os.Exit(exitCode)
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name        string
		buildName   string
		buildTime   string
		buildCommit string
		buildVer    string
		wantMissing []string
		wantName    string
		wantVersion string
	}{
		{"All set", "pipe", "2026-04-13", "abcdef1", "v1.0.0", nil, "pipe", "v1.0.0"},
		{"Name defaults", "", "2026-04-13", "abcdef1", "v1.0.0", nil, defaultName, "v1.0.0"},
		{"Missing commit", "", "2026-04-13", "", "v1.0.0", []string{"buildCommit"}, defaultName, "v1.0.0"},
		{"Development build", "", "", "", "", []string{"buildTime", "buildCommit", "buildVersion"}, defaultName, "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buildInfo = origInfo
			buildName, buildTime, buildCommit, buildVersion = tt.buildName, tt.buildTime, tt.buildCommit, tt.buildVer

			err := Initialize()
			if len(tt.wantMissing) == 0 && err != nil {
				t.Fatalf("Initialize() unexpected error: %v", err)
			}
			for _, flag := range tt.wantMissing {
				if err == nil || !strings.Contains(err.Error(), flag+" is not set") {
					t.Errorf("Initialize() error = %v, want mention of %s", err, flag)
				}
			}

			info := Get()
			if info.Name != tt.wantName || info.Version != tt.wantVersion {
				t.Errorf("Get() = %+v", info)
			}
			if info.Description == "" {
				t.Error("Description should always be set")
			}
		})
	}
}

func TestInfoString(t *testing.T) {
	i := Info{Version: "v1.2.3", Commit: "abc", Time: "today"}
	if got := i.String(); got != "v1.2.3 (commit abc, built today)" {
		t.Errorf("String() = %q", got)
	}
}
