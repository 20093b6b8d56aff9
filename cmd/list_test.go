package cmd

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/iksnae/pipeline-session/internal"
	"github.com/iksnae/pipeline-session/testutil"
	"gopkg.in/yaml.v3"
)

const fixtureTranscript = `[
  {"id":"u1","role":"user","content":"Estimate the plans","timestamp":"2026-01-05T10:00:00Z"},
  {"id":"a1","role":"assistant","agent":"estimator","content":"Total $4,200","timestamp":"2026-01-05T10:01:00Z"}
]`

func snapshotFixture(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "snapshots.db")
	testutil.CreateSQLiteFixture(t, db, internal.DefaultSnapshotKey, fixtureTranscript)
	return db
}

func TestListCommand(t *testing.T) {
	isolateEnv(t)
	db := snapshotFixture(t)

	out, err := executeCommand(t, "", "--storage", db, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, want := range []string{"Found 1 snapshot(s)", internal.DefaultSnapshotKey, "2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestListCommand_Empty(t *testing.T) {
	isolateEnv(t)

	out, err := executeCommand(t, "", "--storage", filepath.Join(t.TempDir(), "empty.db"), "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "No snapshots found") {
		t.Errorf("output = %q, want empty notice", out)
	}
}

func TestShowCommand(t *testing.T) {
	isolateEnv(t)
	db := snapshotFixture(t)

	tests := []struct {
		name string
		args []string
		want []string
		not  []string
	}{
		{
			name: "text",
			args: []string{"show"},
			want: []string{"(2 messages)", "Estimate the plans", "Total $4,200"},
		},
		{
			name: "limit",
			args: []string{"show", "--limit", "1"},
			want: []string{"(1 messages)", "Total $4,200"},
			not:  []string{"Estimate the plans"},
		},
		{
			name: "explicit key",
			args: []string{"show", internal.DefaultSnapshotKey, "-f", "json"},
			want: []string{`"id": "u1"`, `"agent": "estimator"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--storage", db}, tt.args...)
			out, err := executeCommand(t, "", args...)
			if err != nil {
				t.Fatalf("show failed: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			for _, not := range tt.not {
				if strings.Contains(out, not) {
					t.Errorf("output should not contain %q:\n%s", not, out)
				}
			}
		})
	}
}

func TestShowCommand_YAML(t *testing.T) {
	isolateEnv(t)
	db := snapshotFixture(t)

	out, err := executeCommand(t, "", "--storage", db, "show", "--format", "yaml")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	var messages []internal.Message
	if err := yaml.Unmarshal([]byte(out), &messages); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out)
	}
	if len(messages) != 2 || messages[0].Role != internal.RoleUser || messages[1].Agent != "estimator" {
		t.Errorf("messages = %+v", messages)
	}
}

func TestShowCommand_Errors(t *testing.T) {
	isolateEnv(t)
	db := snapshotFixture(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing key", args: []string{"--storage", db, "show", "no-such-key"}},
		{name: "bad format", args: []string{"--storage", db, "show", "--format", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := executeCommand(t, "", tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}
