package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOneLine(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"line one\nline two", 40, "line one line two"},
		{"abcdefghij", 5, "abcd…"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := oneLine(tt.in, tt.n); got != tt.want {
			t.Errorf("oneLine(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

// writeConfig points the CLI at a throwaway SQLite file.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "store:\n  driver: sqlite\nsqlite:\n  path: " + filepath.Join(dir, "tweets.db") + "\nlogging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestStatsAndExportOnEmptyStore(t *testing.T) {
	cfgPath := writeConfig(t)

	var out bytes.Buffer
	cliApp := newApp()
	cliApp.Writer = &out
	if err := cliApp.RunContext(context.Background(), []string{"postctl", "-c", cfgPath, "stats"}); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out.String(), "posts:  0") {
		t.Errorf("stats output = %q", out.String())
	}

	out.Reset()
	cliApp = newApp()
	cliApp.Writer = &out
	if err := cliApp.RunContext(context.Background(), []string{"postctl", "-c", cfgPath, "export", "-f", "json"}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if out.String() != "[]" {
		t.Errorf("export output = %q, want []", out.String())
	}
}

func TestFetchRequiresKeyword(t *testing.T) {
	cfgPath := writeConfig(t)
	cliApp := newApp()
	cliApp.Writer = new(bytes.Buffer)
	cliApp.ErrWriter = new(bytes.Buffer)
	err := cliApp.RunContext(context.Background(), []string{"postctl", "-c", cfgPath, "fetch", "-q", "   "})
	if err == nil || !strings.Contains(err.Error(), "Please enter a keyword.") {
		t.Errorf("fetch error = %v", err)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	cliApp := newApp()
	cliApp.Writer = new(bytes.Buffer)
	err := cliApp.RunContext(context.Background(), []string{"postctl", "export", "-f", "xml"})
	if err == nil {
		t.Error("expected error for xml format")
	}
}

func TestPrintEvent(t *testing.T) {
	var out bytes.Buffer
	value := []byte(`{"post_id":"7","keyword":"golang","username":"alice","date":"2024-01-01","content":"a\nb","ingested_at":"2024-01-02T03:04:05Z"}`)
	if err := printEvent(&out, value); err != nil {
		t.Fatalf("printEvent() error = %v", err)
	}
	want := "2024-01-02T03:04:05Z  [golang] 7 @alice: a b\n"
	if out.String() != want {
		t.Errorf("printEvent() wrote %q, want %q", out.String(), want)
	}
	if err := printEvent(&out, []byte("nope")); err == nil {
		t.Error("expected decode error")
	}
}

func TestTailRequiresKafka(t *testing.T) {
	cfgPath := writeConfig(t)
	cliApp := newApp()
	cliApp.Writer = new(bytes.Buffer)
	err := cliApp.RunContext(context.Background(), []string{"postctl", "-c", cfgPath, "tail"})
	if err == nil || !strings.Contains(err.Error(), "kafka is disabled") {
		t.Errorf("tail error = %v", err)
	}
}
