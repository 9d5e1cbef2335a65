package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestWriteVersion(t *testing.T) {
	b := buildInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "2026-01-02", GoVersion: "go1.25", Platform: "linux/amd64"}

	var text bytes.Buffer
	if err := writeVersion(&text, b, false); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"toolgate 1.2.3", "abc123", "2026-01-02", "linux/amd64"} {
		if !strings.Contains(text.String(), want) {
			t.Errorf("text output missing %q:\n%s", want, text.String())
		}
	}

	var js bytes.Buffer
	if err := writeVersion(&js, b, true); err != nil {
		t.Fatal(err)
	}
	var got buildInfo
	if err := json.Unmarshal(js.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != b {
		t.Errorf("json round trip = %+v, want %+v", got, b)
	}
}

func TestCurrentBuild_UsesLinkedValues(t *testing.T) {
	old := Commit
	Commit = "deadbeef"
	t.Cleanup(func() { Commit = old })

	if got := currentBuild(); got.Commit != "deadbeef" || got.Version != Version {
		t.Errorf("currentBuild() = %+v", got)
	}
}
