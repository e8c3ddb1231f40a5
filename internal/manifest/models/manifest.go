package models

import (
	"fmt"
	"strings"
	"time"

	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

// Status is the manifest packing state. Once packing starts it is derived
// from item packed-ness and never set directly.
type Status string

const (
	StatusDraft           Status = "Draft"
	StatusReadyForPacking Status = "ReadyForPacking"
	StatusPartiallyPacked Status = "PartiallyPacked"
	StatusFullyPacked     Status = "FullyPacked"
	StatusCompleted       Status = "Completed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusReadyForPacking, StatusPartiallyPacked, StatusFullyPacked, StatusCompleted:
		return true
	}
	return false
}

// Manifest is a shipment of assets from a facility to a poll site.
//
// Invariants:
//   - Items may be added or removed only while Draft
//   - An empty manifest cannot be readied for packing
//   - After every MarkItemPacked: all items packed => FullyPacked,
//     some packed => PartiallyPacked
//   - Complete is legal only from FullyPacked
type Manifest struct {
	ID             id.ManifestID `json:"id"`
	Number         string        `json:"manifest_number"`
	Status         Status        `json:"status"`
	FromFacilityID id.FacilityID `json:"from_facility_id"`
	ToPollSiteID   id.PollSiteID `json:"to_poll_site_id"`
	ElectionID     id.ElectionID `json:"election_id"`
	KitID          id.KitID      `json:"kit_id"`
	Items          []*Item       `json:"items"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	PackedAt       time.Time     `json:"packed_at"`
	CompletedAt    time.Time     `json:"completed_at"`
}

func NewManifest(manifestID id.ManifestID, number string, from id.FacilityID, to id.PollSiteID, election id.ElectionID, now time.Time) (*Manifest, error) {
	switch {
	case strings.TrimSpace(number) == "":
		return nil, dErrors.New(dErrors.CodeValidation, "manifest number is required")
	case from.IsNil():
		return nil, dErrors.New(dErrors.CodeValidation, "from facility is required")
	case to.IsNil():
		return nil, dErrors.New(dErrors.CodeValidation, "poll site is required")
	case election.IsNil():
		return nil, dErrors.New(dErrors.CodeValidation, "election is required")
	}
	return &Manifest{
		ID:             manifestID,
		Number:         number,
		Status:         StatusDraft,
		FromFacilityID: from,
		ToPollSiteID:   to,
		ElectionID:     election,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (m *Manifest) invalidTransition(op string) error {
	return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("cannot %s: manifest %s is %s", op, m.Number, m.Status))
}

func (m *Manifest) item(assetID id.AssetID) *Item {
	for _, it := range m.Items {
		if it.AssetID == assetID {
			return it
		}
	}
	return nil
}

// AddItem appends an item for assetID sealed with sealNumber.
func (m *Manifest) AddItem(assetID id.AssetID, sealNumber string, now time.Time) error {
	if m.Status != StatusDraft {
		return m.invalidTransition("add item")
	}
	if strings.TrimSpace(sealNumber) == "" {
		return dErrors.New(dErrors.CodeValidation, "seal number is required")
	}
	if m.item(assetID) != nil {
		return dErrors.New(dErrors.CodeDuplicate, fmt.Sprintf("asset %s is already in manifest %s", assetID, m.Number))
	}
	m.Items = append(m.Items, &Item{AssetID: assetID, SealNumber: sealNumber})
	m.UpdatedAt = now
	return nil
}

func (m *Manifest) RemoveItem(assetID id.AssetID, now time.Time) error {
	if m.Status != StatusDraft {
		return m.invalidTransition("remove item")
	}
	for i, it := range m.Items {
		if it.AssetID == assetID {
			m.Items = append(m.Items[:i], m.Items[i+1:]...)
			m.UpdatedAt = now
			return nil
		}
	}
	return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("asset %s is not in manifest %s", assetID, m.Number))
}

// ReadyForPacking opens the manifest for packing.
func (m *Manifest) ReadyForPacking(now time.Time) error {
	if m.Status != StatusDraft {
		return m.invalidTransition("ready manifest for packing")
	}
	if len(m.Items) == 0 {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("cannot ready manifest %s for packing: manifest has no items", m.Number))
	}
	m.Status = StatusReadyForPacking
	m.UpdatedAt = now
	return nil
}

// MarkItemPacked packs one item and recomputes the manifest status.
func (m *Manifest) MarkItemPacked(assetID id.AssetID, packedBy string, now time.Time) error {
	if m.Status != StatusReadyForPacking && m.Status != StatusPartiallyPacked {
		return m.invalidTransition("mark item packed")
	}
	it := m.item(assetID)
	if it == nil {
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("asset %s is not in manifest %s", assetID, m.Number))
	}
	if err := it.MarkPacked(packedBy, now); err != nil {
		return err
	}
	m.recomputeStatus(now)
	return nil
}

// recomputeStatus derives the packing status from the items.
func (m *Manifest) recomputeStatus(now time.Time) {
	packed := m.PackedCount()
	switch {
	case packed == len(m.Items):
		m.Status = StatusFullyPacked
		m.PackedAt = now
	case packed > 0:
		m.Status = StatusPartiallyPacked
	}
	m.UpdatedAt = now
}

// CanFinishPacking checks that packing has started and the manifest is not
// Completed. A FullyPacked manifest may be finished again to reconcile its
// kit.
func (m *Manifest) CanFinishPacking() error {
	switch m.Status {
	case StatusReadyForPacking, StatusPartiallyPacked, StatusFullyPacked:
		return nil
	}
	return m.invalidTransition("finish packing")
}

func (m *Manifest) Complete(now time.Time) error {
	if m.Status != StatusFullyPacked {
		return m.invalidTransition("complete manifest")
	}
	m.Status = StatusCompleted
	m.CompletedAt = now
	m.UpdatedAt = now
	return nil
}

// LinkKit records the kit built for this manifest.
func (m *Manifest) LinkKit(kitID id.KitID, now time.Time) {
	m.KitID = kitID
	m.UpdatedAt = now
}

func (m *Manifest) AssetIDs() []id.AssetID {
	out := make([]id.AssetID, 0, len(m.Items))
	for _, it := range m.Items {
		out = append(out, it.AssetID)
	}
	return out
}

func (m *Manifest) UnpackedAssetIDs() []id.AssetID {
	var out []id.AssetID
	for _, it := range m.Items {
		if !it.IsPacked {
			out = append(out, it.AssetID)
		}
	}
	return out
}

func (m *Manifest) PackedCount() int {
	n := 0
	for _, it := range m.Items {
		if it.IsPacked {
			n++
		}
	}
	return n
}

func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Items = make([]*Item, len(m.Items))
	for i, it := range m.Items {
		cp := *it
		c.Items[i] = &cp
	}
	return &c
}
