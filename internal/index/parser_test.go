package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractPreviewString(t *testing.T) {
	raw := []byte(`{"content":"hello"}`)
	var mc messageContent
	if err := json.Unmarshal(raw, &mc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := extractPreview(&mc); got != "hello" {
		t.Errorf("extractPreview() = %q, want %q", got, "hello")
	}
}

func TestExtractPreviewBlocks(t *testing.T) {
	raw := []byte(`{"content":[{"type":"tool_use","text":""},{"type":"text","text":"from block"}]}`)
	var mc messageContent
	if err := json.Unmarshal(raw, &mc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := extractPreview(&mc); got != "from block" {
		t.Errorf("extractPreview() = %q, want %q", got, "from block")
	}
}

func TestTruncatePreviewProperty(t *testing.T) {
	tests := []string{
		"",
		"short",
		strings.Repeat("a", 200),
		strings.Repeat("a", 201),
		strings.Repeat("é", 500), // multi-byte rune, single code point
	}
	for _, s := range tests {
		got := truncatePreview(s)
		if n := utf8.RuneCountInString(got); n > previewMaxRunes+3 {
			t.Errorf("truncatePreview(%d runes) produced %d runes, want <= %d", utf8.RuneCountInString(s), n, previewMaxRunes+3)
		}
		wantEllipsis := utf8.RuneCountInString(s) > previewMaxRunes
		hasEllipsis := strings.HasSuffix(got, "...")
		if wantEllipsis != hasEllipsis {
			t.Errorf("truncatePreview(%d runes): ellipsis=%v, want %v", utf8.RuneCountInString(s), hasEllipsis, wantEllipsis)
		}
	}
}

func TestSynthesizeProjectPath(t *testing.T) {
	tests := []struct{ hash, want string }{
		{"", ""},
		{"-Users-x-app", "/Users/x/app"},
		{"Users-x-app", "/Users/x/app"},
	}
	for _, tt := range tests {
		if got := synthesizeProjectPath(tt.hash); got != tt.want {
			t.Errorf("synthesizeProjectPath(%q) = %q, want %q", tt.hash, got, tt.want)
		}
	}
}

func TestParseFileHeaderAndTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "11111111-1111-1111-1111-111111111111.jsonl")
	content := strings.Join([]string{
		`{"cwd":"/Users/x/app","version":"2.1.37"}`,
		`{"type":"user","message":{"content":"hello"}}`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	pf, err := parseFile(path)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}
	if pf.ProjectPath != "/Users/x/app" {
		t.Errorf("ProjectPath = %q", pf.ProjectPath)
	}
	if pf.CLIVersion != "2.1.37" {
		t.Errorf("CLIVersion = %q", pf.CLIVersion)
	}
	if pf.LastMessagePreview != "hello" {
		t.Errorf("LastMessagePreview = %q", pf.LastMessagePreview)
	}
	if string(pf.LastMessageRole) != "user" {
		t.Errorf("LastMessageRole = %q", pf.LastMessageRole)
	}
}

func TestParseFileMalformedLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "22222222-2222-2222-2222-222222222222.jsonl")
	content := "not json\n{also not json\n{\"cwd\":\"/a/b\"}\nnot json again\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	pf, err := parseFile(path)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}
	if pf.ProjectPath != "/a/b" {
		t.Errorf("ProjectPath = %q, want /a/b", pf.ProjectPath)
	}
}

func TestParseTailSmallFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "33333333-3333-3333-3333-333333333333.jsonl")
	// File smaller than the 4KiB tail window: the whole file must be read
	// and the first line must NOT be dropped.
	content := `{"type":"assistant","message":{"content":"only line"}}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	pf := &parsedFile{}
	if err := parseTail(path, pf); err != nil {
		t.Fatalf("parseTail: %v", err)
	}
	if pf.LastMessagePreview != "only line" {
		t.Errorf("LastMessagePreview = %q, want %q", pf.LastMessagePreview, "only line")
	}
}
