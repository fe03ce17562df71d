package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitWithWriter(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf)

	Info().Str("cmd", "toggle").Msg("starting")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "starting" {
		t.Errorf("msg = %v, want %q", entry["msg"], "starting")
	}
	if entry["cmd"] != "toggle" {
		t.Errorf("cmd = %v, want %q", entry["cmd"], "toggle")
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("expected ts field from timestamp hook")
	}
}

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug): %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("level = %v, want debug", zerolog.GlobalLevel())
	}

	if err := SetLevel(""); err != nil {
		t.Fatalf("SetLevel(\"\"): %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Error("empty level should keep the current level")
	}

	if err := SetLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSetDebug(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	SetDebug(true)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("level = %v, want debug", zerolog.GlobalLevel())
	}
	SetDebug(false)
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("level = %v, want info", zerolog.GlobalLevel())
	}
}

func TestInitCreatesLogFile(t *testing.T) {
	defer Close()
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	path := filepath.Join(t.TempDir(), "nested", "daemon.log")
	if err := Init(Options{File: path, Level: "warn"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if logFile == nil {
		t.Fatal("log file should be open")
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("level = %v, want warn", zerolog.GlobalLevel())
	}
}
