// Package redistransport implements transport.Transport over Redis pub/sub
// (github.com/redis/go-redis/v9). Request/reply is layered on top of plain
// pub/sub using a server-generated unique reply channel per call, the same
// pattern the escalation engine this module was built from uses for its
// alert-ack fan-out — repurposed here from "ack fan-out" to "RPC over
// pub/sub" so no gRPC/protobuf stack is required.
package redistransport

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nimbusblock/control-plane/pkg/transport"
)

// Transport binds transport.Transport to a Redis client.
type Transport struct {
	rdb    *redis.Client
	major  string // schema major version, used as the reply-channel prefix
}

// New wraps an existing Redis client. major is the schema major version
// (e.g. "v1") used to build reply channel names.
func New(rdb *redis.Client, major string) *Transport {
	return &Transport{rdb: rdb, major: major}
}

// Publish issues a plain Redis PUBLISH.
func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.rdb.Publish(ctx, channel, payload).Err()
}

// Request subscribes to a fresh reply channel, publishes payload to channel
// carrying that reply channel's name, and waits for the first message on
// it (or ctx's deadline, whichever comes first).
func (t *Transport) Request(ctx context.Context, channel string, payload []byte) ([]byte, error) {
	replyChannel := fmt.Sprintf("%s/reply/%s", t.major, uuid.NewString())

	sub := t.rdb.Subscribe(ctx, replyChannel)
	defer sub.Close()

	// Wait for the subscription to be acknowledged before publishing, so a
	// fast responder can't reply before we're listening.
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribing to reply channel %q: %w", replyChannel, err)
	}

	env := requestEnvelope{Channel: channel, ReplyTo: replyChannel, Payload: payload}
	encoded, err := encodeRequest(env)
	if err != nil {
		return nil, err
	}
	if err := t.rdb.Publish(ctx, channel, encoded).Err(); err != nil {
		return nil, fmt.Errorf("publishing request on %q: %w", channel, err)
	}

	ch := sub.Channel()
	select {
	case msg := <-ch:
		return []byte(msg.Payload), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// requestEnvelope is what actually travels on the request channel: the
// caller's payload plus the reply channel the responder must publish its
// answer to.
type requestEnvelope struct {
	Channel string `json:"channel"`
	ReplyTo string `json:"reply_to"`
	Payload []byte `json:"payload"`
}

func encodeRequest(env requestEnvelope) ([]byte, error) {
	return transport.JSONCodec{}.Encode(env)
}

var _ transport.Transport = (*Transport)(nil)
