package versions

import (
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Not parallel: the cases swap the package-level build variables.
func TestGetVersionInfo(t *testing.T) {
	origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
	})

	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)

	// A fully unstamped dev build may pick a commit up from the module
	// build info, so only the shape is fixed.
	Version, Commit, BuildDate = "dev", unknownStr, unknownStr
	unstamped := GetVersionInfo()
	assert.True(t, strings.HasPrefix(unstamped.Version, "build-"),
		"unstamped version %q should be derived from the commit", unstamped.Version)

	tests := []struct {
		name        string
		version     string
		commit      string
		buildDate   string
		wantVersion string
		wantDate    string
	}{
		{
			name:        "dev build names itself after the commit, truncated to 8",
			version:     "dev",
			commit:      "abc123def456789",
			buildDate:   unknownStr,
			wantVersion: "build-abc123de",
			wantDate:    unknownStr,
		},
		{
			name:        "short commit used whole",
			version:     "dev",
			commit:      "short",
			buildDate:   unknownStr,
			wantVersion: "build-short",
			wantDate:    unknownStr,
		},
		{
			name:        "release build keeps the stamped version and formats the date",
			version:     "v1.2.3",
			commit:      "abc123def456789",
			buildDate:   "2024-01-15T10:30:00Z",
			wantVersion: "v1.2.3",
			wantDate:    "2024-01-15 10:30:00 UTC",
		},
		{
			name:        "unparseable date passes through",
			version:     "v2.0.0",
			commit:      "def456",
			buildDate:   "not-a-date",
			wantVersion: "v2.0.0",
			wantDate:    "not-a-date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Version, Commit, BuildDate = tt.version, tt.commit, tt.buildDate

			got := GetVersionInfo()

			assert.Equal(t, tt.wantVersion, got.Version)
			assert.Equal(t, tt.commit, got.Commit)
			assert.Equal(t, tt.wantDate, got.BuildDate)
			assert.Equal(t, runtime.Version(), got.GoVersion)
			assert.Equal(t, platform, got.Platform)
		})
	}
}
