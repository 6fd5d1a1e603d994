package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestInitTextFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelInfo, "text", &buf)

	New("diff").Info("tree compared", "added", 2)

	out := buf.String()
	if !strings.Contains(out, "component=diff") {
		t.Errorf("missing component attribute: %s", out)
	}
	if !strings.Contains(out, "tree compared") {
		t.Errorf("missing message: %s", out)
	}
}

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelInfo, "json", &buf)

	New("arbiter").Info("admitted")

	out := buf.String()
	if !strings.Contains(out, `"component":"arbiter"`) {
		t.Errorf("missing component in JSON output: %s", out)
	}
}

func TestInitLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelWarn, "text", &buf)

	New("stage").Debug("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("debug log leaked past warn level: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
