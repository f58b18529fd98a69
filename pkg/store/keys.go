package store

import "fmt"

// KeyBuilder builds the control plane's key layout:
//
//	<productPrefix>/<clusterUID>/<namespace>/...
//
// under which the fixed sub-paths from spec §6 live (control-plane/lock/...,
// spec/pool/..., spec/replica/..., spec/nexus/..., spec/volume/...,
// info/nexus/...).
type KeyBuilder struct {
	productPrefix string
	clusterUID    string
	namespace     string
}

func NewKeyBuilder(productPrefix, clusterUID, namespace string) KeyBuilder {
	return KeyBuilder{productPrefix: productPrefix, clusterUID: clusterUID, namespace: namespace}
}

func (k KeyBuilder) root() string {
	return fmt.Sprintf("%s/%s/%s", k.productPrefix, k.clusterUID, k.namespace)
}

// LockKey returns the lease keeper's well-known lock key for a service name.
func (k KeyBuilder) LockKey(service string) string {
	return fmt.Sprintf("%s/control-plane/lock/%s", k.root(), service)
}

func (k KeyBuilder) SpecPrefix(kind string) string {
	return fmt.Sprintf("%s/spec/%s/", k.root(), kind)
}

func (k KeyBuilder) SpecKey(kind, id string) string {
	return k.SpecPrefix(kind) + id
}

func (k KeyBuilder) NodeSpecKey(id string) string    { return k.SpecKey("node", id) }
func (k KeyBuilder) PoolSpecKey(id string) string    { return k.SpecKey("pool", id) }
func (k KeyBuilder) ReplicaSpecKey(id string) string { return k.SpecKey("replica", id) }
func (k KeyBuilder) NexusSpecKey(id string) string   { return k.SpecKey("nexus", id) }
func (k KeyBuilder) VolumeSpecKey(id string) string  { return k.SpecKey("volume", id) }

// NexusInfoKey returns the key the data plane writes a NexusInfo record to.
func (k KeyBuilder) NexusInfoKey(nexusUUID string) string {
	return fmt.Sprintf("%s/info/nexus/%s", k.root(), nexusUUID)
}
