package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bobarin/listingreel/internal/config"
)

func TestBuildVideoProviders(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.Config
		wantActive  string
		wantPollers []string
		wantErr     bool
	}{
		{
			name:       "fal only",
			cfg:        config.Config{VideoProvider: "fal", FalKey: "k"},
			wantActive: "fal",
		},
		{
			name:        "kling active, fal and veo polled",
			cfg:         config.Config{VideoProvider: "kling", FalKey: "k", KlingAccessKey: "a", KlingSecretKey: "s", GeminiKey: "g"},
			wantActive:  "kling",
			wantPollers: []string{"fal", "veo"},
		},
		{
			name:    "selected provider missing credentials",
			cfg:     config.Config{VideoProvider: "veo", FalKey: "k"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active, pollers, err := buildVideoProviders(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if active.Name() != tt.wantActive {
				t.Errorf("expected active %s, got %s", tt.wantActive, active.Name())
			}
			if len(pollers) != len(tt.wantPollers) {
				t.Fatalf("expected %d pollers, got %d", len(tt.wantPollers), len(pollers))
			}
			for i, p := range pollers {
				if p.Name() != tt.wantPollers[i] {
					t.Errorf("poller %d: expected %s, got %s", i, tt.wantPollers[i], p.Name())
				}
			}
		})
	}
}

func TestRenderDoctor(t *testing.T) {
	out := renderDoctor([]doctorCheck{
		{"Config", checkOK, "video provider fal"},
		{"Encoder", checkWarn, "ffmpeg encoder not available, playlist fallback only"},
		{"Database", checkFail, "DATABASE_URL not set"},
	}, false)

	for _, want := range []string{"Config", "OK", "WARN", "FAIL", "playlist fallback only"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("uncolored output should not contain escape codes")
	}
}

func TestStatusLabelColor(t *testing.T) {
	if got := statusLabel(checkOK, true); !strings.Contains(got, "\x1b[") || !strings.Contains(got, "OK") {
		t.Errorf("expected colored OK label, got %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Error("buffers are never terminals")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "doctor"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("missing %s command", name)
		}
	}
}

func TestRunDoctorListsMotionTemplates(t *testing.T) {
	checks := runDoctor(context.Background(), &config.Config{})

	byName := map[string]doctorCheck{}
	for _, c := range checks {
		byName[c.Name] = c
	}
	if c := byName["Config"]; c.Status != checkFail {
		t.Errorf("empty config should fail validation, got %s", c.Status)
	}
	if c := byName["Motion templates"]; !strings.Contains(c.Detail, "slow_push_in") {
		t.Errorf("expected template list, got %q", c.Detail)
	}
	if c := byName["Redis"]; c.Status != checkWarn {
		t.Errorf("missing redis should warn, got %s", c.Status)
	}
}
