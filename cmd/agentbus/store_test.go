package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStoreFlags(t *testing.T) {
	cmd := newAgentListCmd()
	for _, name := range []string{"config", "state", "verbose"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag", name)
		}
	}
	if f := cmd.Flags().ShorthandLookup("c"); f == nil || f.Name != "config" {
		t.Error("expected -c shorthand for --config")
	}
	if f := cmd.Flags().Lookup("config"); f.DefValue != defaultConfigPath {
		t.Errorf("config default = %q, want %q", f.DefValue, defaultConfigPath)
	}
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	_, err := runCLI(t, "agent", "list", "-c", filepath.Join(t.TempDir(), "nope.yaml"), "--state", tempState(t))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want load config", err)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "configured.json")
	cfgPath := filepath.Join(dir, "agentbus.yaml")
	content := "bus:\n  strategy: timestamp_based\nstate:\n  path: " + state + "\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	mustRun(t, "agent", "register", "alpha", "-c", cfgPath)
	if _, err := os.Stat(state); err != nil {
		t.Fatalf("expected snapshot at config state.path: %v", err)
	}

	out := mustRun(t, "state", "show", "-c", cfgPath)
	if !strings.Contains(out, "timestamp_based") {
		t.Errorf("expected configured strategy in output, got: %s", out)
	}
}

func TestWithStore_CorruptSnapshotNotOverwritten(t *testing.T) {
	state := tempState(t)
	if err := os.WriteFile(state, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := runCLI(t, "agent", "register", "alpha", "--state", state)
	if err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
	data, _ := os.ReadFile(state)
	if string(data) != "{not json" {
		t.Errorf("corrupt snapshot was overwritten: %q", data)
	}
}

func TestWithStore_ReadOnlyCommandDoesNotCreateFile(t *testing.T) {
	state := tempState(t)
	mustRun(t, "agent", "list", "--state", state)
	if _, err := os.Stat(state); !os.IsNotExist(err) {
		t.Errorf("expected no snapshot after read-only command, stat err = %v", err)
	}
}
