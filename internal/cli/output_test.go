package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newCaptureOutput(jsonMode bool) (*Output, *bytes.Buffer, *bytes.Buffer) {
	var w, errW bytes.Buffer
	return &Output{jsonMode: jsonMode, w: &w, errW: &errW}, &w, &errW
}

func TestOutput_TableEmpty(t *testing.T) {
	o, w, _ := newCaptureOutput(false)

	o.Print([]string{"ID", "STATUS"}, nil, []TaskResponse{})

	if got := w.String(); got != "No results.\n" {
		t.Errorf("empty table output = %q, want %q", got, "No results.\n")
	}
}

func TestOutput_Table(t *testing.T) {
	o, w, _ := newCaptureOutput(false)

	o.Table([]string{"ID", "STATUS"}, [][]string{{"abc", "pending"}})

	lines := strings.Split(strings.TrimRight(w.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header, separator and one row, got %q", w.String())
	}
	if !strings.Contains(lines[0], "ID") || !strings.Contains(lines[0], "STATUS") {
		t.Errorf("header line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "--") {
		t.Errorf("separator line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "pending") {
		t.Errorf("data line = %q", lines[2])
	}
}

func TestOutput_JSONMode(t *testing.T) {
	o, w, errW := newCaptureOutput(true)

	o.Print([]string{"ID"}, [][]string{{"abc"}}, map[string]string{"id": "abc"})

	var decoded map[string]string
	if err := json.Unmarshal(w.Bytes(), &decoded); err != nil {
		t.Fatalf("json mode output is not JSON: %v (%q)", err, w.String())
	}
	if decoded["id"] != "abc" {
		t.Errorf("decoded = %v", decoded)
	}
	if errW.Len() != 0 {
		t.Errorf("json mode must not write to stderr, got %q", errW.String())
	}
}
