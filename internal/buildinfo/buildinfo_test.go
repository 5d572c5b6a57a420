package buildinfo

import (
	"runtime/debug"
	"testing"
)

func TestFill_UsesVCSWhenNotInjected(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.24.0",
		Main:      debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-10-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := fill(Info{Version: "dev"}, bi)
	if got.Version != "v0.3.1" || got.Commit != "abc123" || got.Date != "2026-10-01T10:00:00Z" || !got.Modified {
		t.Fatalf("unexpected info: %+v", got)
	}
	if got.GoVersion != "go1.24.0" {
		t.Fatalf("GoVersion: got %q", got.GoVersion)
	}
}

func TestFill_KeepsInjectedValues(t *testing.T) {
	bi := &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
	}
	got := fill(Info{Version: "v1.0.0", Commit: "deadbeef"}, bi)
	if got.Version != "v1.0.0" || got.Commit != "deadbeef" {
		t.Fatalf("injected values overwritten: %+v", got)
	}
}
