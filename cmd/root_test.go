package cmd

import (
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	isolateEnv(t)

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{
			name: "version flag",
			args: []string{"--version"},
			want: version,
		},
		{
			name: "help flag",
			args: []string{"--help"},
			want: "pipeline-session watch",
		},
		{
			name:    "unknown command",
			args:    []string{"nonexistent-command"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(t, "", tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q does not contain %q", out, tt.want)
			}
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"watch", "send", "replay", "extract", "list", "show", "healthcheck"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestRootCommand_BadConfig(t *testing.T) {
	isolateEnv(t)

	_, err := executeCommand(t, "", "--config", "/nonexistent/config.yaml", "list")
	if err == nil {
		t.Fatal("expected error for a missing explicit config")
	}
}
