package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"lineage/api/internal/related"
)

func TestParseRelatedArgs(t *testing.T) {
	req, err := parseRelatedArgs([]string{"platform/core", "1042", "3"}, "")
	if err != nil {
		t.Fatalf("parseRelatedArgs() error = %v", err)
	}
	if req.Project != "platform/core" || req.ChangeID != 1042 || req.PatchSet != 3 || req.Edit {
		t.Fatalf("unexpected request %+v", req)
	}

	req, err = parseRelatedArgs([]string{"platform", "7", "edit"}, "1000042")
	if err != nil {
		t.Fatalf("parseRelatedArgs(edit) error = %v", err)
	}
	if !req.Edit || req.Account != "1000042" || req.PatchSet != 0 {
		t.Fatalf("unexpected edit request %+v", req)
	}

	bad := [][]string{
		{"platform", "x", "1"},
		{"platform", "0", "1"},
		{"platform", "7", "zero"},
		{"platform", "7", "-1"},
		{"platform", "7", "edit"},
	}
	for _, args := range bad {
		if _, err := parseRelatedArgs(args, ""); err == nil {
			t.Fatalf("parseRelatedArgs(%v) expected error", args)
		}
	}
}

func TestWriteRelatedTable(t *testing.T) {
	entries := []related.Entry{
		{ChangeID: 12, PatchSet: 2, CurrentPatchSet: 2, Status: "NEW", Commit: related.Commit{Hash: "abcdef0123456789", Subject: "Add retry"}},
		{ChangeID: 11, PatchSet: 1, CurrentPatchSet: 3, Status: "MERGED", Commit: related.Commit{Hash: "0123", Subject: "Base"}},
	}
	var buf bytes.Buffer
	if err := writeRelatedTable(&buf, entries); err != nil {
		t.Fatalf("writeRelatedTable() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"CHANGE", "abcdef0123 ", "1/3", "Add retry", "MERGED"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := writeRelatedTable(&buf, nil); err != nil {
		t.Fatalf("writeRelatedTable(nil) error = %v", err)
	}
	if !strings.Contains(buf.String(), "No related changes") {
		t.Fatalf("unexpected empty output %q", buf.String())
	}
}

func TestWriteRelatedJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRelatedJSON(&buf, []related.Entry{}); err != nil {
		t.Fatalf("writeRelatedJSON() error = %v", err)
	}
	var payload map[string][]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if changes, ok := payload["changes"]; !ok || len(changes) != 0 {
		t.Fatalf("unexpected payload %s", buf.String())
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"related", "reindex", "migrate"} {
		if !names[want] {
			t.Fatalf("command %q not registered", want)
		}
	}
}

func TestReindexAcceptsSingleChange(t *testing.T) {
	flag := reindexCmd.Flags().Lookup("change")
	if flag == nil {
		t.Fatal("reindex has no --change flag")
	}
	if flag.DefValue != "0" {
		t.Fatalf("--change default = %q, want 0", flag.DefValue)
	}
}
