package models

import (
	"fmt"
	"strings"
	"time"

	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

// Status is the kit dispatch-readiness state.
type Status string

const (
	StatusDraft            Status = "Draft"
	StatusAssigned         Status = "Assigned"
	StatusPacked           Status = "Packed"
	StatusReadyForDispatch Status = "ReadyForDispatch"
)

// SearchOrder is the order in which kit statuses are scanned when a kit is
// located by asset membership.
var SearchOrder = []Status{StatusDraft, StatusAssigned, StatusPacked, StatusReadyForDispatch}

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusAssigned, StatusPacked, StatusReadyForDispatch:
		return true
	}
	return false
}

// AssetKit links one asset to the kit. It has no lifecycle of its own.
type AssetKit struct {
	AssetID    id.AssetID `json:"asset_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy string     `json:"assigned_by,omitempty"`
}

// Kit is a physical bundle of assets destined for one poll site.
//
// Invariants:
//   - Assets may be added or removed only while Draft; adding is idempotent
//   - Draft -> Assigned only through AssignToPollSite
//   - Assigned -> Packed -> ReadyForDispatch, one step at a time
type Kit struct {
	ID         id.KitID      `json:"id"`
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	PollSiteID id.PollSiteID `json:"poll_site_id"`
	Assets     []AssetKit    `json:"assets"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	PackedAt   time.Time     `json:"packed_at"`
}

func NewKit(kitID id.KitID, name string, now time.Time) (*Kit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "kit name is required")
	}
	return &Kit{
		ID:        kitID,
		Name:      name,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func invalidTransition(op string, current Status) error {
	return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("cannot %s: kit is %s", op, current))
}

// HasAsset reports whether assetID is linked to the kit.
func (k *Kit) HasAsset(assetID id.AssetID) bool {
	for _, link := range k.Assets {
		if link.AssetID == assetID {
			return true
		}
	}
	return false
}

// HasAnyAsset reports whether the kit holds any of the given assets.
func (k *Kit) HasAnyAsset(assetIDs map[id.AssetID]struct{}) bool {
	for _, link := range k.Assets {
		if _, ok := assetIDs[link.AssetID]; ok {
			return true
		}
	}
	return false
}

// AssetIDs lists linked assets in insertion order.
func (k *Kit) AssetIDs() []id.AssetID {
	out := make([]id.AssetID, 0, len(k.Assets))
	for _, link := range k.Assets {
		out = append(out, link.AssetID)
	}
	return out
}

// AddAsset links an asset. Re-adding a linked asset is a no-op.
func (k *Kit) AddAsset(assetID id.AssetID, assignedBy string, now time.Time) error {
	if k.Status != StatusDraft {
		return invalidTransition("add asset", k.Status)
	}
	if k.HasAsset(assetID) {
		return nil
	}
	k.Assets = append(k.Assets, AssetKit{AssetID: assetID, AssignedAt: now, AssignedBy: assignedBy})
	k.UpdatedAt = now
	return nil
}

func (k *Kit) RemoveAsset(assetID id.AssetID, now time.Time) error {
	if k.Status != StatusDraft {
		return invalidTransition("remove asset", k.Status)
	}
	for i, link := range k.Assets {
		if link.AssetID == assetID {
			k.Assets = append(k.Assets[:i], k.Assets[i+1:]...)
			k.UpdatedAt = now
			return nil
		}
	}
	return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("asset %s is not in kit %s", assetID, k.Name))
}

// AssignToPollSite is the only Draft -> Assigned transition.
func (k *Kit) AssignToPollSite(pollSiteID id.PollSiteID, now time.Time) error {
	if k.Status != StatusDraft {
		return invalidTransition("assign kit to poll site", k.Status)
	}
	if pollSiteID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "poll site is required")
	}
	k.PollSiteID = pollSiteID
	k.Status = StatusAssigned
	k.UpdatedAt = now
	return nil
}

func (k *Kit) MarkPacked(now time.Time) error {
	if k.Status != StatusAssigned {
		return invalidTransition("mark kit packed", k.Status)
	}
	k.Status = StatusPacked
	k.PackedAt = now
	k.UpdatedAt = now
	return nil
}

func (k *Kit) MarkReadyForDispatch(now time.Time) error {
	if k.Status != StatusPacked {
		return invalidTransition("mark kit ready for dispatch", k.Status)
	}
	k.Status = StatusReadyForDispatch
	k.UpdatedAt = now
	return nil
}

func (k *Kit) Clone() *Kit {
	c := *k
	c.Assets = append([]AssetKit(nil), k.Assets...)
	return &c
}
