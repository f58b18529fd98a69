// Package dataplane implements the one concrete binding over
// pkg/transport's Request/Publish capability that every data-plane-facing
// consumer shares: pkg/ops.Client (the create-side surface), pkg/reconcile's
// DataPlaneClient (corrective actions), and pkg/nodecache.NodeClient
// (periodic state polling). A single small RPC envelope — an op name plus a
// JSON request/response pair — stands in for the teacher corpus's
// macro-generated per-message wire types, consistent with
// pkg/transport.CodecRegistry's "JSON unless told otherwise" default.
package dataplane

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/transport"
)

// Client is the RPC client every node-facing capability in this module is
// built from.
type Client struct {
	t transport.Transport
}

// New wraps an existing transport.Transport.
func New(t transport.Transport) *Client { return &Client{t: t} }

type envelope struct {
	Op     string          `json:"op"`
	Req    json.RawMessage `json:"req,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// call sends op with req marshalled as the payload to node's channel,
// decoding the reply's result field into resp (if non-nil).
func (c *Client) call(ctx context.Context, node, op string, req, resp any) error {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}

	payload, err := json.Marshal(envelope{Op: op, Req: reqBytes})
	if err != nil {
		return fmt.Errorf("encoding %s envelope: %w", op, err)
	}

	raw, err := c.t.Request(ctx, "node/"+node, payload)
	if err != nil {
		return fmt.Errorf("%s on node %q: %w", op, node, err)
	}

	var reply envelope
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("decoding %s reply from node %q: %w", op, node, err)
	}
	if reply.Error != "" {
		return fmt.Errorf("%s on node %q: %s", op, node, reply.Error)
	}
	if resp != nil && len(reply.Result) > 0 {
		if err := json.Unmarshal(reply.Result, resp); err != nil {
			return fmt.Errorf("decoding %s result from node %q: %w", op, node, err)
		}
	}
	return nil
}

// --- pkg/ops.Client / pkg/reconcile.DataPlaneClient ---

func (c *Client) CreatePool(ctx context.Context, node, poolID string, disks []string) error {
	return c.call(ctx, node, "CreatePool", struct {
		PoolID string   `json:"pool_id"`
		Disks  []string `json:"disks"`
	}{poolID, disks}, nil)
}

func (c *Client) DestroyPool(ctx context.Context, node, poolID string) error {
	return c.call(ctx, node, "DestroyPool", struct {
		PoolID string `json:"pool_id"`
	}{poolID}, nil)
}

func (c *Client) CreateReplica(ctx context.Context, node, poolID, replicaUUID string, sizeBytes uint64, thin bool) (string, error) {
	var resp struct {
		URI string `json:"uri"`
	}
	err := c.call(ctx, node, "CreateReplica", struct {
		PoolID      string `json:"pool_id"`
		ReplicaUUID string `json:"replica_uuid"`
		SizeBytes   uint64 `json:"size_bytes"`
		Thin        bool   `json:"thin"`
	}{poolID, replicaUUID, sizeBytes, thin}, &resp)
	return resp.URI, err
}

func (c *Client) ShareReplica(ctx context.Context, node, replicaUUID, protocol string) (string, error) {
	var resp struct {
		URI string `json:"uri"`
	}
	err := c.call(ctx, node, "ShareReplica", struct {
		ReplicaUUID string `json:"replica_uuid"`
		Protocol    string `json:"protocol"`
	}{replicaUUID, protocol}, &resp)
	return resp.URI, err
}

func (c *Client) UnshareReplica(ctx context.Context, node, replicaUUID string) error {
	return c.call(ctx, node, "UnshareReplica", struct {
		ReplicaUUID string `json:"replica_uuid"`
	}{replicaUUID}, nil)
}

func (c *Client) DestroyReplica(ctx context.Context, node, replicaUUID string) error {
	return c.call(ctx, node, "DestroyReplica", struct {
		ReplicaUUID string `json:"replica_uuid"`
	}{replicaUUID}, nil)
}

func (c *Client) CreateNexus(ctx context.Context, node, nexusUUID string, sizeBytes uint64, children []string) error {
	return c.call(ctx, node, "CreateNexus", struct {
		NexusUUID string   `json:"nexus_uuid"`
		SizeBytes uint64   `json:"size_bytes"`
		Children  []string `json:"children"`
	}{nexusUUID, sizeBytes, children}, nil)
}

func (c *Client) AddNexusChild(ctx context.Context, node, nexusUUID, childURI string) error {
	return c.call(ctx, node, "AddNexusChild", struct {
		NexusUUID string `json:"nexus_uuid"`
		ChildURI  string `json:"child_uri"`
	}{nexusUUID, childURI}, nil)
}

func (c *Client) RemoveNexusChild(ctx context.Context, node, nexusUUID, childURI string) error {
	return c.call(ctx, node, "RemoveNexusChild", struct {
		NexusUUID string `json:"nexus_uuid"`
		ChildURI  string `json:"child_uri"`
	}{nexusUUID, childURI}, nil)
}

func (c *Client) ShareNexus(ctx context.Context, node, nexusUUID, protocol string) error {
	return c.call(ctx, node, "ShareNexus", struct {
		NexusUUID string `json:"nexus_uuid"`
		Protocol  string `json:"protocol"`
	}{nexusUUID, protocol}, nil)
}

func (c *Client) UnshareNexus(ctx context.Context, node, nexusUUID string) error {
	return c.call(ctx, node, "UnshareNexus", struct {
		NexusUUID string `json:"nexus_uuid"`
	}{nexusUUID}, nil)
}

func (c *Client) DestroyNexus(ctx context.Context, node, nexusUUID string) error {
	return c.call(ctx, node, "DestroyNexus", struct {
		NexusUUID string `json:"nexus_uuid"`
	}{nexusUUID}, nil)
}

// --- pkg/nodecache.NodeClient ---

func (c *Client) ListPools(ctx context.Context, node spec.NodeSpec) ([]spec.PoolState, error) {
	var resp []spec.PoolState
	err := c.call(ctx, node.ID, "ListPools", struct{}{}, &resp)
	return resp, err
}

func (c *Client) ListReplicas(ctx context.Context, node spec.NodeSpec) ([]spec.ReplicaState, error) {
	var resp []spec.ReplicaState
	err := c.call(ctx, node.ID, "ListReplicas", struct{}{}, &resp)
	return resp, err
}

func (c *Client) ListNexuses(ctx context.Context, node spec.NodeSpec) ([]spec.NexusState, error) {
	var resp []spec.NexusState
	err := c.call(ctx, node.ID, "ListNexuses", struct{}{}, &resp)
	return resp, err
}
