package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("user_id", "u1").Msg("user online")
	Debug().Msg("suppressed")

	out := buf.String()
	if !strings.Contains(out, `"user_id":"u1"`) || !strings.Contains(out, `"message":"user online"`) {
		t.Errorf("unexpected log output: %s", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Error("debug line written at info level")
	}
}

func TestCtxAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	defer Init(DefaultConfig())

	ctx := ContextWithRequestID(context.Background(), "req-123")
	Ctx(ctx).Warn().Msg("touch failed")

	if !strings.Contains(buf.String(), `"request_id":"req-123"`) {
		t.Errorf("request id missing: %s", buf.String())
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("empty context should carry no request id")
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	defer Init(DefaultConfig())

	logger := slog.New(NewSlogHandler()).With("supervisor", "root").WithGroup("svc")
	logger.Warn("service restarted", "name", "hub")

	out := buf.String()
	for _, want := range []string{`"supervisor":"root"`, `"svc.name":"hub"`, `"level":"warn"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}
