package version

import (
	"runtime"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" {
		t.Error("Version should not be empty")
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Platform = %q, want %q", info.Platform, runtime.GOOS+"/"+runtime.GOARCH)
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{
		Version: "2.1.0",
		Commit:  "deadbeef",
		Date:    "2026-06-01",
		Dirty:   false,
	}
	if got := info.String(); got != "2.1.0 (deadbeef) built 2026-06-01" {
		t.Errorf("String() = %q", got)
	}

	info.Dirty = true
	if got := info.String(); got != "2.1.0 (deadbeef-dirty) built 2026-06-01" {
		t.Errorf("String() = %q", got)
	}
}

func TestInfo_Short(t *testing.T) {
	tests := []struct {
		name     string
		info     Info
		expected string
	}{
		{"clean version", Info{Version: "1.2.3", Dirty: false}, "1.2.3"},
		{"dirty version", Info{Version: "1.2.3", Dirty: true}, "1.2.3-dirty"},
		{"dev version", Info{Version: "0.0.0-dev", Dirty: false}, "0.0.0-dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Short(); got != tt.expected {
				t.Errorf("Short() = %q, want %q", got, tt.expected)
			}
		})
	}
}
