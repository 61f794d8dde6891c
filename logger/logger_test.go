package logger

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		ok            bool
	}{
		{"info", "console", true},
		{"debug", "json", true},
		{"WARN", "", true},
		{"verbose", "console", false},
		{"info", "xml", false},
	}

	for _, tt := range tests {
		log, err := New(tt.level, tt.format)
		if tt.ok && err != nil {
			t.Errorf("New(%q, %q) error = %v", tt.level, tt.format, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("New(%q, %q) expected error", tt.level, tt.format)
		}
		if log != nil {
			_ = log.Sync()
		}
	}
}
