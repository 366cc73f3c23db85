package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/medclaims/claims/internal/config"
	"github.com/medclaims/claims/internal/platform/db"
	"github.com/medclaims/claims/internal/platform/docstore"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"migrate", "down"},
		{"locks", "cleanup"},
	} {
		cmd, rest, err := root.Find(path)
		if err != nil || len(rest) != 0 {
			t.Errorf("command %v not found: %v", path, err)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("resolved %v to %q", path, cmd.Name())
		}
	}
}

func TestMigrateDown_OnlyWarns(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"migrate", "down"})
	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "not supported") {
		t.Errorf("expected a warning, got %q", out.String())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	prod := newLogger("production", &buf)
	prod.Info().Msg("hello")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	dev := newLogger("development", &buf)
	dev.Info().Msg("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected console output, got %q", buf.String())
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "claims", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "indexes"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2024-03-01 10:00:00") {
		t.Errorf("applied row missing: %s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("pending row missing: %s", out)
	}
}

func TestNewRedis_Disabled(t *testing.T) {
	client, err := newRedis(context.Background(), "")
	if err != nil || client != nil {
		t.Errorf("expected no client, got %v %v", client, err)
	}
	if _, err := newRedis(context.Background(), "not a url"); err == nil {
		t.Error("expected a parse error")
	}
}

func TestNewDocVerifier_WithoutBucket(t *testing.T) {
	v, err := newDocVerifier(context.Background(), &config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(docstore.NopVerifier); !ok {
		t.Errorf("expected NopVerifier, got %T", v)
	}
}
