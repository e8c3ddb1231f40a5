package audit

import (
	"context"
	"time"
)

// EventCategory classifies custody trail events.
type EventCategory string

const (
	// CategoryCustody covers events with legal significance for the chain of
	// custody: signatures, seals, hand-offs. Never sampled or dropped.
	CategoryCustody EventCategory = "custody"

	// CategoryWarehouse covers internal warehouse bookkeeping.
	CategoryWarehouse EventCategory = "warehouse"
)

// Event is emitted from services to record a custody-relevant action. Keep it
// transport-agnostic so stores can fan out.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	EntityType string // asset, kit, manifest, coc_form
	EntityID   string
	Action     string
	Actor      string // operator or signer, when known
	Detail     string // free text, e.g. seal number or resulting status
	RequestID  string
}

type Action string

const (
	EventAssetRegistered     Action = "asset_registered"
	EventAssetAssigned       Action = "asset_assigned"
	EventAssetStatusChanged  Action = "asset_status_changed"
	EventManifestCreated     Action = "manifest_created"
	EventItemPacked          Action = "item_packed"
	EventManifestFullyPacked Action = "manifest_fully_packed"
	EventManifestCompleted   Action = "manifest_completed"
	EventKitCreated          Action = "kit_created"
	EventKitPacked           Action = "kit_packed"
	EventKitReady            Action = "kit_ready_for_dispatch"
	EventFormGenerated       Action = "coc_form_generated"
	EventSignatureRecorded   Action = "signature_recorded"
	EventFormCompleted       Action = "coc_form_completed"
)

var actionCategories = map[Action]EventCategory{
	EventItemPacked:          CategoryCustody,
	EventManifestFullyPacked: CategoryCustody,
	EventManifestCompleted:   CategoryCustody,
	EventKitPacked:           CategoryCustody,
	EventKitReady:            CategoryCustody,
	EventFormGenerated:       CategoryCustody,
	EventSignatureRecorded:   CategoryCustody,
	EventFormCompleted:       CategoryCustody,
}

// Category returns the category for this action. Unknown actions are
// warehouse bookkeeping.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryWarehouse
}

// Store appends and reads custody trail events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Event, error)
}
