package version

import "testing"

func TestInfoString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		info Info
		want string
	}{
		{Info{Version: "dev"}, "dev"},
		{Info{Version: "1.2.0", Commit: "abc123"}, "1.2.0 (abc123)"},
		{Info{Version: "1.2.0", Commit: "abc123", BuildTime: "2026-10-01T10:00:00Z"}, "1.2.0 (abc123) built 2026-10-01T10:00:00Z"},
	}
	for _, tt := range tests {
		if got := tt.info.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
