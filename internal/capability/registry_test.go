package capability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestAdvertiseTranscriber(t *testing.T) {
	client := startBus(t)
	announces := make(chan *nats.Msg, 8)
	sub, err := client.Conn().ChanSubscribe(subjectAnnounce, announces)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	cfg := config.Default().Node
	reg, err := NewRegistry(context.Background(), cfg, client, newLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(reg.Close)

	if err := reg.Advertise(TranscriberCapability("parakeet-tdt-0.6b", "cpu", 128)); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	// Re-advertising replaces instead of duplicating.
	if err := reg.Advertise(TranscriberCapability("parakeet-tdt-0.6b", "cuda", 128)); err != nil {
		t.Fatalf("advertise: %v", err)
	}

	local := reg.LocalCapabilities()
	if len(local) != 2 {
		t.Fatalf("expected runtime.core plus transcriber, got %+v", local)
	}
	if local[1].Name != NameTranscriber || local[1].Attributes["device"] != "cuda" || local[1].Attributes["mel_bins"] != "128" {
		t.Fatalf("unexpected transcriber capability: %+v", local[1])
	}

	var last announceMessage
	deadline := time.After(3 * time.Second)
	for len(last.Capabilities) < 2 {
		select {
		case msg := <-announces:
			if err := json.Unmarshal(msg.Data, &last); err != nil {
				t.Fatalf("decode announce: %v", err)
			}
		case <-deadline:
			t.Fatalf("no announce with transcriber, last %+v", last)
		}
	}
	if last.NodeID != cfg.ID {
		t.Fatalf("unexpected node id %q", last.NodeID)
	}

	deadline = time.After(3 * time.Second)
	for {
		nodes := reg.Query(WithCapabilityFilter(NameTranscriber))
		if len(nodes) == 1 && nodes[0].ID == cfg.ID {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("transcriber node not visible: %+v", nodes)
		case <-time.After(20 * time.Millisecond):
		}
	}
	if !reg.Healthy() {
		t.Fatal("expected local node healthy")
	}
}

func TestAttributesAsAttrs(t *testing.T) {
	attrs := TranscriberCapability("parakeet-tdt-1.1b", "cpu", 80).AttributesAsAttrs()
	if len(attrs) != 4 {
		t.Fatalf("expected capability name plus 3 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "capability" || attrs[0].Value.AsString() != NameTranscriber {
		t.Fatalf("unexpected first attribute %v", attrs[0])
	}
}
