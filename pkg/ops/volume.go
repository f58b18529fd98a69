package ops

import (
	"context"
	"log/slog"
	"time"

	"github.com/nimbusblock/control-plane/pkg/ctlerr"
	"github.com/nimbusblock/control-plane/pkg/executor"
	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store"
)

type VolumeOpKind string

const (
	VolumeOpCreate    VolumeOpKind = "CreateVolume"
	VolumeOpPublish   VolumeOpKind = "PublishVolume"
	VolumeOpUnpublish VolumeOpKind = "UnpublishVolume"
	VolumeOpDestroy   VolumeOpKind = "DestroyVolume"
)

// VolumeOp has no data-plane side effect of its own: a volume is realised
// entirely through its owning nexus (created/destroyed via NexusService by
// VolumeService, outside the executor pipeline below, since that is a
// separate resource kind with its own sequencer). VolumeMutator.Invoke is
// therefore always a no-op; the executor pipeline is still used so volume
// mutations get the same pending-op/crash-replay treatment as every other
// resource kind (spec §3's generic lifecycle rules apply uniformly).
type VolumeOp struct {
	Kind         VolumeOpKind
	ReplicaCount int    // CreateVolume
	Nexus        string // PublishVolume
}

// CreateVolumeRequest declares the user-visible block device's desired
// shape, before anything is published.
type CreateVolumeRequest struct {
	UUID         string `validate:"required"`
	SizeBytes    uint64 `validate:"required,gt=0"`
	ReplicaCount int    `validate:"required,gt=0"`
}

type VolumeMutator struct{}

func (m *VolumeMutator) Validate(current spec.VolumeSpec, op VolumeOp) error { return nil }
func (m *VolumeMutator) Invoke(ctx context.Context, current spec.VolumeSpec, op VolumeOp) error {
	return nil
}

func (m *VolumeMutator) Apply(current *spec.VolumeSpec, op VolumeOp) {
	switch op.Kind {
	case VolumeOpCreate:
		current.ReplicaCount = op.ReplicaCount
		current.Status = spec.StatusCreated
	case VolumeOpPublish:
		current.Nexus = op.Nexus
	case VolumeOpUnpublish:
		current.Nexus = ""
	case VolumeOpDestroy:
		current.Status = spec.StatusDeleted
	}
}

func (m *VolumeMutator) OpName(op VolumeOp) string { return string(op.Kind) }

func volumeGetOp(v spec.VolumeSpec) *spec.PendingOp        { return v.Operation }
func volumeSetOp(v *spec.VolumeSpec, op *spec.PendingOp) { v.Operation = op }

// VolumeService orchestrates the volume lifecycle on top of NexusService:
// a volume has no data-plane representation of its own until Publish backs
// it with a nexus over caller-chosen replicas.
type VolumeService struct {
	reg    *registry.Registry[spec.VolumeSpec]
	exec   *executor.Executor[spec.VolumeSpec, VolumeOp]
	nexus  *NexusService
	disown func(ctx context.Context, replicaUUID, nexusUUID string)
}

func NewVolumeService(reg *registry.Registry[spec.VolumeSpec], keeper executor.LeaseStatus, fencedStore store.Store, keyFn func(string) string, logger *slog.Logger, nexus *NexusService, disown func(ctx context.Context, replicaUUID, nexusUUID string), defaultTimeout time.Duration) *VolumeService {
	exec := executor.New[spec.VolumeSpec, VolumeOp](reg, keeper, fencedStore, keyFn, logger, &VolumeMutator{}, defaultTimeout)
	return &VolumeService{reg: reg, exec: exec, nexus: nexus, disown: disown}
}

// Create registers the volume's desired shape. It performs no data-plane
// call: there is nothing to create on a node until Publish backs the
// volume with a nexus.
func (s *VolumeService) Create(ctx context.Context, req CreateVolumeRequest) error {
	if err := reqvalidateErr("volume", req); err != nil {
		return err
	}

	if h, err := s.reg.Get(req.UUID); err == nil {
		cur := h.Read()
		if cur.SizeBytes == req.SizeBytes && cur.ReplicaCount == req.ReplicaCount {
			return nil
		}
		return ctlerr.New(ctlerr.KindAlreadyExists, "volume", "volume_service", "volume %q already exists with different parameters", req.UUID)
	}

	s.reg.InsertOrGetExisting(spec.VolumeSpec{UUID: req.UUID, SizeBytes: req.SizeBytes, Status: spec.StatusCreating})
	return s.exec.Mutate(ctx, req.UUID, VolumeOp{Kind: VolumeOpCreate, ReplicaCount: req.ReplicaCount}, volumeGetOp, volumeSetOp)
}

// Publish creates a nexus over the given replicas (already created and
// owned by this volume by the caller) and records it as the volume's
// owning nexus.
func (s *VolumeService) Publish(ctx context.Context, volumeUUID, nexusUUID, node string, children []spec.NexusChild) error {
	h, err := s.reg.Get(volumeUUID)
	if err != nil {
		return err
	}
	vol := h.Read()
	if vol.Nexus == nexusUUID {
		return nil
	}
	if vol.Nexus != "" {
		return ctlerr.New(ctlerr.KindAlreadyPublished, "volume", "volume_service", "volume %q already published via nexus %q", volumeUUID, vol.Nexus)
	}

	if err := s.nexus.Create(ctx, CreateNexusRequest{UUID: nexusUUID, Node: node, SizeBytes: vol.SizeBytes, Children: children}); err != nil {
		return err
	}
	return s.exec.Mutate(ctx, volumeUUID, VolumeOp{Kind: VolumeOpPublish, Nexus: nexusUUID}, volumeGetOp, volumeSetOp)
}

// Unpublish destroys the volume's owning nexus, disowning every replica it
// mirrored, and clears the volume's nexus reference.
func (s *VolumeService) Unpublish(ctx context.Context, volumeUUID string) error {
	h, err := s.reg.Get(volumeUUID)
	if err != nil {
		return err
	}
	vol := h.Read()
	if vol.Nexus == "" {
		return nil
	}
	if err := s.nexus.Destroy(ctx, vol.Nexus, s.disown); err != nil {
		return err
	}
	return s.exec.Mutate(ctx, volumeUUID, VolumeOp{Kind: VolumeOpUnpublish}, volumeGetOp, volumeSetOp)
}

// Destroy unpublishes if necessary, persists the volume spec as Deleted and
// drops it from the registry; the Deleted spec is not removed from the
// store. Destroying a volume that does not exist succeeds.
func (s *VolumeService) Destroy(ctx context.Context, volumeUUID string) error {
	h, err := s.reg.Get(volumeUUID)
	if err != nil {
		return nil
	}
	if h.Read().Status == spec.StatusDeleted {
		return nil
	}
	if h.Read().Nexus != "" {
		if err := s.Unpublish(ctx, volumeUUID); err != nil {
			return err
		}
	}
	if err := s.exec.Mutate(ctx, volumeUUID, VolumeOp{Kind: VolumeOpDestroy}, volumeGetOp, volumeSetOp); err != nil {
		return err
	}
	s.reg.Remove(volumeUUID)
	return nil
}
