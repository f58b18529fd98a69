package dataplane

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeTransport struct {
	lastChannel string
	lastPayload []byte
	reply       []byte
	replyErr    error
}

func (f *fakeTransport) Request(ctx context.Context, channel string, payload []byte) ([]byte, error) {
	f.lastChannel = channel
	f.lastPayload = payload
	return f.reply, f.replyErr
}

func (f *fakeTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

func TestCreateReplicaDecodesURI(t *testing.T) {
	reply, _ := json.Marshal(envelope{Result: mustJSON(t, map[string]string{"uri": "bdev:///r1"})})
	ft := &fakeTransport{reply: reply}
	c := New(ft)

	uri, err := c.CreateReplica(context.Background(), "node-a", "pool-1", "r1", 1024, false)
	if err != nil {
		t.Fatalf("CreateReplica: %v", err)
	}
	if uri != "bdev:///r1" {
		t.Fatalf("expected uri bdev:///r1, got %q", uri)
	}
	if ft.lastChannel != "node/node-a" {
		t.Fatalf("expected channel node/node-a, got %q", ft.lastChannel)
	}

	var env envelope
	if err := json.Unmarshal(ft.lastPayload, &env); err != nil {
		t.Fatalf("decoding sent envelope: %v", err)
	}
	if env.Op != "CreateReplica" {
		t.Fatalf("expected op CreateReplica, got %q", env.Op)
	}
}

func TestCallPropagatesRemoteError(t *testing.T) {
	reply, _ := json.Marshal(envelope{Error: "pool not found"})
	ft := &fakeTransport{reply: reply}
	c := New(ft)

	if err := c.DestroyPool(context.Background(), "node-a", "pool-1"); err == nil {
		t.Fatalf("expected error from remote envelope")
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
