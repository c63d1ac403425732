package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"trace":   zerolog.TraceLevel,
	}
	for raw, want := range cases {
		got, ok := parseLevel(raw)
		if !ok || got != want {
			t.Fatalf("parseLevel(%q)=%v,%v want %v", raw, got, ok, want)
		}
	}
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestApplyOverridesAndBypass(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogBypass, "true")
	cfg := defaultConfig(ProfileTest)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel || !cfg.Bypass {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}

	var buf bytes.Buffer
	cfg.Out = &buf
	Apply(cfg)
	defer Apply(defaultConfig(ProfileTest))

	Infof("suppressed n=%d", 1)
	Errf("bridge.test failure n=%d", 2)
	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Fatalf("info line leaked at error level: %q", out)
	}
	if !strings.Contains(out, `"message":"bridge.test failure n=2"`) {
		t.Fatalf("expected json error line, got %q", out)
	}
}
