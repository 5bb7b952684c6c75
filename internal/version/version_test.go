package version

import (
	"runtime/debug"
	"testing"
	"time"
)

func withBuildVersion(t *testing.T, v string) {
	t.Helper()
	old := buildVersion
	buildVersion = v
	t.Cleanup(func() { buildVersion = old })
}

func TestLdflagsVersionWins(t *testing.T) {
	withBuildVersion(t, "v1.2.3+dirty")
	if got := Current(); got != "v1.2.3" {
		t.Fatalf("Current() = %q, want v1.2.3", got)
	}
	if got := Describe().Version; got != "v1.2.3+dirty" {
		t.Fatalf("Describe().Version = %q, want dirty suffix kept", got)
	}
}

func TestDescribeFromVCSStamp(t *testing.T) {
	withBuildVersion(t, "")
	committed := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "example.test/fork", Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abcdef0123456789"},
			{Key: "vcs.time", Value: committed.Format(time.RFC3339)},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := describe(info)
	if got.Version != "v0.0.0-20260304050607-abcdef012345+dirty" {
		t.Fatalf("unexpected pseudo-version %q", got.Version)
	}
	if got.Module != "example.test/fork" || got.Revision != "abcdef0123456789" || !got.Modified {
		t.Fatalf("unexpected info %+v", got)
	}
}

func TestDescribeTaggedModule(t *testing.T) {
	withBuildVersion(t, "")
	got := describe(&debug.BuildInfo{Main: debug.Module{Version: "v0.4.0"}})
	if got.Version != "v0.4.0" || got.Module != defaultModule {
		t.Fatalf("unexpected info %+v", got)
	}
}

func TestDescribeWithoutBuildInfo(t *testing.T) {
	withBuildVersion(t, "")
	got := describe(nil)
	if got.Version != unknownVersion || got.GoVersion == "" {
		t.Fatalf("unexpected info %+v", got)
	}
}
