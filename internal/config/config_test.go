package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_NODE_ID", "test-node")
	t.Setenv("LOQA_NODE_ROLE", "runtime")
	t.Setenv("LOQA_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("LOQA_NODE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.Node.HeartbeatInterval != 1500 {
		t.Fatalf("expected heartbeat interval override")
	}
	if cfg.Node.HeartbeatTimeout != 5000 {
		t.Fatalf("expected heartbeat timeout override")
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
}

func TestSTTDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stt := cfg.STT
	if !stt.Enabled || stt.Mode != "tdt" {
		t.Fatalf("expected tdt backend enabled by default, got %+v", stt)
	}
	if stt.ChunkFrames != 80 || stt.MaxSymbolsPerFrame != 5 {
		t.Fatalf("unexpected decoder defaults %d/%d", stt.ChunkFrames, stt.MaxSymbolsPerFrame)
	}
	if stt.Variant != "auto" || stt.Device != "cpu" {
		t.Fatalf("unexpected model defaults %q/%q", stt.Variant, stt.Device)
	}
}

func TestSTTEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_STT_MODE", "mock")
	t.Setenv("LOQA_STT_MODEL_DIR", "/models/parakeet-tdt-1.1b")
	t.Setenv("LOQA_STT_VARIANT", "1.1b")
	t.Setenv("LOQA_STT_STRICT_VARIANT", "true")
	t.Setenv("LOQA_STT_DEVICE", "cuda")
	t.Setenv("LOQA_STT_NUM_THREADS", "2")
	t.Setenv("LOQA_STT_ORT_LIBRARY_PATH", "/opt/ort/libonnxruntime.so")
	t.Setenv("LOQA_STT_CHUNK_FRAMES", "120")
	t.Setenv("LOQA_STT_MAX_SYMBOLS_PER_FRAME", "3")
	t.Setenv("LOQA_STT_SAMPLE_RATE", "48000")
	t.Setenv("LOQA_STT_CHANNELS", "2")
	t.Setenv("LOQA_STT_MAX_SEGMENT_MS", "10000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stt := cfg.STT
	if stt.Mode != "mock" || stt.ModelDir != "/models/parakeet-tdt-1.1b" {
		t.Fatalf("expected mode and model dir override, got %+v", stt)
	}
	if stt.Variant != "1.1b" || !stt.StrictVariant || stt.Device != "cuda" {
		t.Fatalf("expected variant/device override, got %+v", stt)
	}
	if stt.NumThreads != 2 || stt.ORTLibraryPath != "/opt/ort/libonnxruntime.so" {
		t.Fatalf("expected runtime override, got %+v", stt)
	}
	if stt.ChunkFrames != 120 || stt.MaxSymbolsPerFrame != 3 {
		t.Fatalf("expected decoder override, got %+v", stt)
	}
	if stt.SampleRate != 48000 || stt.Channels != 2 || stt.MaxSegmentMS != 10000 {
		t.Fatalf("expected audio override, got %+v", stt)
	}
}

func TestValidateSTT(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*STTConfig)
	}{
		{"unknown mode", func(c *STTConfig) { c.Mode = "exec" }},
		{"unknown variant", func(c *STTConfig) { c.Variant = "2b" }},
		{"unknown device", func(c *STTConfig) { c.Device = "tpu" }},
		{"missing model dir", func(c *STTConfig) { c.ModelDir = "" }},
		{"zero chunk", func(c *STTConfig) { c.ChunkFrames = 0 }},
		{"zero threads", func(c *STTConfig) { c.NumThreads = 0 }},
		{"zero symbols", func(c *STTConfig) { c.MaxSymbolsPerFrame = 0 }},
		{"zero rate", func(c *STTConfig) { c.SampleRate = 0 }},
		{"zero channels", func(c *STTConfig) { c.Channels = 0 }},
		{"zero segment", func(c *STTConfig) { c.MaxSegmentMS = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg.STT)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := Default()
	cfg.STT.Mode = "mock"
	cfg.STT.ModelDir = ""
	if err := validate(cfg); err != nil {
		t.Fatalf("mock mode needs no model dir: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa.yaml")
	body := "runtime_name: edge\nstt:\n  mode: mock\n  chunk_frames: 64\ntelemetry:\n  log_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "edge" || cfg.STT.Mode != "mock" || cfg.STT.ChunkFrames != 64 {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.STT.SampleRate != 16000 {
		t.Fatalf("expected defaults to survive partial yaml, got %d", cfg.STT.SampleRate)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
