package format

import (
	"strings"
	"testing"
)

func TestMarkdownTable(t *testing.T) {
	tbl := NewTable(Markdown)
	tbl.Header("Method", "Path")
	tbl.Row("GET", "/users")
	tbl.Row("POST", "/orders")

	out := tbl.String()
	if !strings.Contains(out, "| GET") || !strings.Contains(out, "/orders") {
		t.Errorf("unexpected markdown render:\n%s", out)
	}
	if !strings.Contains(out, "---") {
		t.Errorf("missing markdown separator row:\n%s", out)
	}
}

func TestASCIITable(t *testing.T) {
	tbl := NewTable(ASCII)
	tbl.Header("Kind", "Count")
	tbl.Row("endpoints", 7)
	tbl.AlignRight(2)

	out := tbl.String()
	if !strings.Contains(out, "endpoints") || !strings.Contains(out, "7") {
		t.Errorf("unexpected ascii render:\n%s", out)
	}
}
