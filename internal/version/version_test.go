package version

import "testing"

// withBuild sets the ldflags variables for the duration of a test.
func withBuild(t *testing.T, v, commit, built string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, Commit, BuildTime = v, commit, built
}

func TestString(t *testing.T) {
	tests := []struct {
		name                string
		version, commit, at string
		want                string
	}{
		{"defaults", "dev", "unknown", "unknown", "dev (unknown) built unknown"},
		{"release", "1.2.3", "abc1234", "2024-01-15T10:00:00Z", "1.2.3 (abc1234) built 2024-01-15T10:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBuild(t, tt.version, tt.commit, tt.at)
			if got := String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGet(t *testing.T) {
	withBuild(t, "0.4.0", "deadbee", "2025-06-01T00:00:00Z")

	want := Info{Version: "0.4.0", Commit: "deadbee", BuildTime: "2025-06-01T00:00:00Z"}
	if got := Get(); got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}
