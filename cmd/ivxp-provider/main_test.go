package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppReadsConfigFlag(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")
	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("network: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"ivxp-provider", "--config", missing}, "read config"},
		{"short flag", []string{"ivxp-provider", "-c", missing}, "read config"},
		{"invalid yaml", []string{"ivxp-provider", "--config", invalid, "--debug"}, "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newApp().Run(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Run(%v) error = %v, want %q", tt.args, err, tt.want)
			}
		})
	}
}
