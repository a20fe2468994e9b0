package marfslog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: WARN, Output: &buf, Format: FormatText})
	if err != nil {
		t.Fatal(err)
	}
	l.Infof("should not appear")
	l.Warnf("should appear")
	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("expected INFO to be filtered at WARN level: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("expected WARN line to be emitted: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: DEBUG, Output: &buf, Format: FormatJSON})
	if err != nil {
		t.Fatal(err)
	}
	l.WithComponent("streamwalker").Info("iterate step", map[string]interface{}{"fileno": 3})

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON line: %v (%q)", err, buf.String())
	}
	if entry.Message != "iterate step" {
		t.Fatalf("unexpected message: %q", entry.Message)
	}
	if entry.Fields["component"] != "streamwalker" {
		t.Fatalf("expected component field to propagate: %+v", entry.Fields)
	}
}

func TestComponentLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: ERROR, Output: &buf, Format: FormatText})
	if err != nil {
		t.Fatal(err)
	}
	l.SetComponentLevel("datastream", DEBUG)
	scoped := l.WithComponent("datastream")
	scoped.Debugf("chunk boundary at %d", 80*1024)
	if !strings.Contains(buf.String(), "chunk boundary") {
		t.Fatalf("expected component-level override to allow DEBUG output")
	}
}
