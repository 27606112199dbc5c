package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "aistats.yaml")
	content := "storage:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "cli.db") + "\n" +
		"cache:\n  driver: memory\n" +
		"llm:\n  provider: \"\"\n" +
		"api:\n  jwt_secret: cli-secret\n" +
		"log:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "XAI_API_KEY"} {
		t.Setenv(k, "")
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "aistats dev\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSourcesLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := run(t, "--config", cfg, "--json", "sources", "list", "--mode", "tech")
	if err != nil {
		t.Fatal(err)
	}
	var listed []map[string]any
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("list output is not JSON: %v\n%s", err, out)
	}
	before := len(listed)
	if before == 0 {
		t.Fatal("expected default tech sources")
	}

	_, _, err = run(t, "--config", cfg, "sources", "add", "--mode", "tech", "--type", "feed",
		"--name", "Example Feed", "--url", "https://example.com/feed", "--tags", "seo", "--param", "limit=5")
	if err != nil {
		t.Fatal(err)
	}

	out, _, err = run(t, "--config", cfg, "sources", "list", "--mode", "tech", "--tag", "seo")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Example Feed") {
		t.Fatalf("added source missing from table:\n%s", out)
	}

	if _, _, err := run(t, "--config", cfg, "sources", "remove", "tech", "999"); err == nil {
		t.Fatal("expected out of range error")
	}
	if _, _, err := run(t, "--config", cfg, "sources", "remove", "tech", "0"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := run(t, "--config", cfg, "sources", "list", "--mode", "astrology"); err == nil {
		t.Fatal("expected unknown mode error")
	}

	out, _, err = run(t, "--config", cfg, "--json", "sources", "history")
	if err != nil {
		t.Fatal(err)
	}
	var history []map[string]any
	if err := json.Unmarshal([]byte(out), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) < 2 {
		t.Fatalf("expected snapshots for add and remove, got %d", len(history))
	}

	out, _, err = run(t, "--config", cfg, "sources", "diff", fmt.Sprint(history[1]["id"]))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1 deletions") {
		t.Fatalf("expected the removed source in the diff:\n%s", out)
	}

	if _, _, err := run(t, "--config", cfg, "sources", "refresh"); err != nil {
		t.Fatal(err)
	}
	out, _, err = run(t, "--config", cfg, "--json", "sources", "list", "--mode", "tech")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != before {
		t.Fatalf("refresh should restore %d sources, got %d", before, len(listed))
	}
}

func TestToken(t *testing.T) {
	cfg := writeConfig(t)
	out, _, err := run(t, "--config", cfg, "token", "--role", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if parts := strings.Split(strings.TrimSpace(out), "."); len(parts) != 3 {
		t.Fatalf("expected a JWT, got %q", out)
	}
	if _, _, err := run(t, "--config", cfg, "token", "--role", "root"); err == nil {
		t.Fatal("expected unknown role error")
	}
}

func TestGenerateWithoutProvider(t *testing.T) {
	cfg := writeConfig(t)
	if _, _, err := run(t, "--config", cfg, "generate", "--mode", "tech"); err == nil {
		t.Fatal("expected an error without an LLM provider")
	}
}
