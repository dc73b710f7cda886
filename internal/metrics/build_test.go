package metrics

import (
	"runtime"
	"runtime/debug"
	"testing"
)

func TestBuildLabels(t *testing.T) {
	labels := buildLabels(nil)
	if labels["go_version"] != runtime.Version() || labels["vcs_revision"] != "" || len(labels) != 5 {
		t.Fatalf("unexpected labels without build info: %v", labels)
	}

	labels = buildLabels(&debug.BuildInfo{
		GoVersion: "go1.24.3",
		Settings: []debug.BuildSetting{
			{Key: "vcs", Value: "git"},
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.modified", Value: "true"},
			{Key: "-tags", Value: "netgo"},
		},
	})
	want := map[string]string{
		"go_version":   "go1.24.3",
		"vcs":          "git",
		"vcs_revision": "abc123",
		"vcs_time":     "",
		"vcs_modified": "true",
	}
	if len(labels) != len(want) {
		t.Fatalf("unexpected label set %v", labels)
	}
	for key, value := range want {
		if labels[key] != value {
			t.Fatalf("label %s = %q, want %q", key, labels[key], value)
		}
	}
}
