package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voicegrade/internal/api"
	"voicegrade/internal/config"
	"voicegrade/internal/evaluation"
	"voicegrade/internal/scoring"
)

type cliTestEnv struct {
	configPath string
	storeRoot  string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	for _, key := range []string{config.EnvClientID, config.EnvClientSecret, config.EnvRefreshToken, config.EnvAPIToken} {
		t.Setenv(key, "")
	}
	t.Chdir(base)

	env := &cliTestEnv{
		configPath: filepath.Join(base, "voicegrade-test.toml"),
		storeRoot:  filepath.Join(base, "store"),
		baseDir:    base,
	}
	content := fmt.Sprintf(`[paths]
state_dir = %q
log_dir = %q

[store]
backend = "local"
local_root = %q
move_settle_ms = 0

[audit]
enabled = true
path = %q

[logging]
level = "error"
`,
		filepath.Join(base, "state"),
		filepath.Join(base, "logs"),
		env.storeRoot,
		filepath.Join(base, "state", "audit.db"),
	)
	if err := os.WriteFile(env.configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func scoreFlags(value string) []string {
	var flags []string
	for _, key := range scoring.DualLanguageRubric().Keys() {
		flags = append(flags, "--score", key+"="+value)
	}
	return flags
}

func (e *cliTestEnv) create(t *testing.T, id, name string) {
	t.Helper()
	out, _, err := runCLI(t, []string{
		"records", "create",
		"--id", id,
		"--employee-id", "E-" + id,
		"--name", name,
		"--language", "korean-english",
		"--category", "신규",
		"--submitted-at", "2026-03-01T10:00:00Z",
		"--recording", "1:korean:/recordings/" + id + "/1-ko.webm",
	}, e.configPath)
	if err != nil {
		t.Fatalf("records create %s: %v", id, err)
	}
	requireContains(t, out, "Created record "+id)
}

func TestRecordsLifecycleThroughCLI(t *testing.T) {
	env := setupCLITestEnv(t)
	env.create(t, "r1", "김하나")

	if _, err := os.Stat(filepath.Join(env.storeRoot, "evaluations", "pending", "r1.json")); err != nil {
		t.Fatalf("expected pending detail file: %v", err)
	}

	args := append([]string{"records", "submit", "r1", "--evaluator", "박평가"}, scoreFlags("18")...)
	out, _, err := runCLI(t, args, env.configPath)
	if err != nil {
		t.Fatalf("records submit: %v", err)
	}
	requireContains(t, out, "Record r1 is now submitted with grade A")

	out, _, err = runCLI(t, []string{"records", "approve", "r1", "--actor", "관리자"}, env.configPath)
	if err != nil {
		t.Fatalf("records approve: %v", err)
	}
	requireContains(t, out, "(approved)")

	out, _, err = runCLI(t, []string{"records", "show", "r1", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("records show: %v", err)
	}
	var rec evaluation.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if !rec.Approved || rec.Grade != "A" || rec.ApprovedBy != "관리자" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !strings.Contains(rec.DetailPath, "/completed/") {
		t.Fatalf("expected completed detail path, got %s", rec.DetailPath)
	}

	out, _, err = runCLI(t, []string{"records", "history", "r1"}, env.configPath)
	if err != nil {
		t.Fatalf("records history: %v", err)
	}
	requireContains(t, out, "created")
	requireContains(t, out, "pending → submitted")
	requireContains(t, out, "approved")

	_, _, err = runCLI(t, []string{"records", "delete", "r1", "--actor", "관리자"}, env.configPath)
	if err == nil {
		t.Fatal("expected delete of an approved record to fail")
	}
}

func TestRecordsListFiltersAndPages(t *testing.T) {
	env := setupCLITestEnv(t)
	env.create(t, "a1", "김하나")
	env.create(t, "b2", "이둘")
	env.create(t, "c3", "박셋")

	out, _, err := runCLI(t, []string{"records", "list", "--json", "--limit", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("records list: %v", err)
	}
	var list api.RecordList
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 3 || len(list.Records) != 2 || list.Limit != 2 {
		t.Fatalf("unexpected page %+v", list)
	}

	out, _, err = runCLI(t, []string{"records", "list", "-q", "이둘"}, env.configPath)
	if err != nil {
		t.Fatalf("records list query: %v", err)
	}
	requireContains(t, out, "b2")
	requireContains(t, out, "Showing 1 of 1")
	if strings.Contains(out, "a1") {
		t.Fatalf("query should exclude a1:\n%s", out)
	}

	if _, _, err := runCLI(t, []string{"records", "list", "--language", "klingon"}, env.configPath); err == nil {
		t.Fatal("expected unknown language to fail")
	}
}

func TestRecordsSubmitRejectsMalformedScore(t *testing.T) {
	env := setupCLITestEnv(t)
	env.create(t, "r1", "김하나")

	_, _, err := runCLI(t, []string{"records", "submit", "r1", "--evaluator", "x", "--score", "korean.발성"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "key=value") {
		t.Fatalf("expected key=value error, got %v", err)
	}
}

func TestIndexReconcileRecoversMissingEntries(t *testing.T) {
	env := setupCLITestEnv(t)
	env.create(t, "r1", "김하나")

	if err := os.Remove(filepath.Join(env.storeRoot, "evaluations", "index.json")); err != nil {
		t.Fatalf("remove index: %v", err)
	}

	out, _, err := runCLI(t, []string{"index", "reconcile"}, env.configPath)
	if err != nil {
		t.Fatalf("index reconcile: %v", err)
	}
	requireContains(t, out, "Scanned 1 detail documents")
	requireContains(t, out, "Added (1): r1")

	out, _, err = runCLI(t, []string{"index", "reconcile"}, env.configPath)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	requireContains(t, out, "Index already consistent")
}

func TestAuthTokenSkipsLocalBackend(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"auth", "token"}, env.configPath)
	if err != nil {
		t.Fatalf("auth token: %v", err)
	}
	requireContains(t, out, "no token required")
}

func TestConfigInitShowAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(env.baseDir, "generated", "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	t.Setenv(config.EnvAPIToken, "s3cret")
	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "<redacted>")
	if strings.Contains(out, "s3cret") {
		t.Fatalf("config show leaked the api token:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Config path: "+env.configPath)
	requireContains(t, out, "Configuration valid")
}

func TestParseRecordingRefs(t *testing.T) {
	refs, err := parseRecordingRefs([]string{"2:english:/rec/a:b.webm"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(refs) != 1 || refs[0].Script != 2 || refs[0].Track != "english" || refs[0].Path != "/rec/a:b.webm" {
		t.Fatalf("unexpected refs %+v", refs)
	}
	if _, err := parseRecordingRefs([]string{"x:english:/rec"}); err == nil {
		t.Fatal("expected error for non-numeric script")
	}
}
