package models

import (
	"fmt"
	"strings"
	"time"

	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

// WarehouseLocation is where registered and returned assets live.
const WarehouseLocation = "Warehouse"

// Asset is one physical, individually tracked piece of election equipment.
//
// Invariants:
//   - SerialNumber is non-empty and unique across assets (enforced by the store)
//   - Status only changes through the transition methods below, each legal
//     from a fixed set of source states
//   - UpdateCondition and CompleteMaintenance move an asset whose condition
//     becomes Retired to OutOfService; ReturnToWarehouse does not check
//     condition, so a returned Retired asset is Available again
//   - MaintenanceHistory is append-only
//
// Assets are never hard-deleted; they move to OutOfService instead.
type Asset struct {
	ID                 id.AssetID          `json:"id"`
	SerialNumber       string              `json:"serial_number"`
	Type               Type                `json:"asset_type"`
	Barcode            string              `json:"barcode,omitempty"`
	RFIDTag            string              `json:"rfid_tag,omitempty"`
	Status             Status              `json:"status"`
	Condition          Condition           `json:"condition"`
	Location           string              `json:"location"`
	FacilityID         id.FacilityID       `json:"facility_id"`
	ElectionID         id.ElectionID       `json:"election_id"`
	KitID              id.KitID            `json:"kit_id"`
	MaintenanceHistory []MaintenanceRecord `json:"maintenance_history,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// MaintenanceRecord is one maintenance cycle. CompletedAt is zero while the
// cycle is open.
type MaintenanceRecord struct {
	StartedAt          time.Time `json:"started_at"`
	Description        string    `json:"description"`
	PerformedBy        string    `json:"performed_by,omitempty"`
	CompletedAt        time.Time `json:"completed_at"`
	ResultingCondition Condition `json:"resulting_condition,omitempty"`
}

// NewAsset builds an Unregistered asset in New condition.
func NewAsset(assetID id.AssetID, serial string, assetType Type, now time.Time) (*Asset, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "serial number is required")
	}
	if !assetType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid asset type: %q", assetType))
	}
	return &Asset{
		ID:           assetID,
		SerialNumber: serial,
		Type:         assetType,
		Status:       StatusUnregistered,
		Condition:    ConditionNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func invalidTransition(op string, current Status) error {
	return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("cannot %s: asset is %s", op, current))
}

// Register makes an Unregistered asset Available in the warehouse.
func (a *Asset) Register(barcode, rfidTag string, now time.Time) error {
	if a.Status != StatusUnregistered {
		return invalidTransition("register asset", a.Status)
	}
	a.Barcode = strings.TrimSpace(barcode)
	a.RFIDTag = strings.TrimSpace(rfidTag)
	a.Status = StatusAvailable
	a.Location = WarehouseLocation
	a.UpdatedAt = now
	return nil
}

// CanAssignToKit checks that the asset is Available.
// Use with ApplyAssignToKit in Execute callbacks.
func (a *Asset) CanAssignToKit() error {
	if a.Status != StatusAvailable {
		return invalidTransition("assign asset to kit", a.Status)
	}
	return nil
}

// ApplyAssignToKit links the asset to kitID and marks it Assigned.
// Call CanAssignToKit first.
func (a *Asset) ApplyAssignToKit(kitID id.KitID, now time.Time) {
	a.KitID = kitID
	a.Status = StatusAssigned
	a.UpdatedAt = now
}

// AssignToKit validates and applies kit assignment in one call.
func (a *Asset) AssignToKit(kitID id.KitID, now time.Time) error {
	if err := a.CanAssignToKit(); err != nil {
		return err
	}
	a.ApplyAssignToKit(kitID, now)
	return nil
}

// MarkInTransit is legal only from Assigned.
func (a *Asset) MarkInTransit(now time.Time) error {
	if a.Status != StatusAssigned {
		return invalidTransition("mark asset in transit", a.Status)
	}
	a.Status = StatusInTransit
	a.UpdatedAt = now
	return nil
}

// ConfirmDelivery is legal only from InTransit.
func (a *Asset) ConfirmDelivery(location string, now time.Time) error {
	if a.Status != StatusInTransit {
		return invalidTransition("confirm delivery", a.Status)
	}
	location = strings.TrimSpace(location)
	if location == "" {
		return dErrors.New(dErrors.CodeValidation, "delivery location is required")
	}
	a.Status = StatusDeployed
	a.Location = location
	a.UpdatedAt = now
	return nil
}

// ReturnToWarehouse resets the asset to Available in the warehouse from any
// state, whatever its condition. Returns always succeed.
func (a *Asset) ReturnToWarehouse(now time.Time) {
	a.Status = StatusAvailable
	a.Location = WarehouseLocation
	a.KitID = id.KitID{}
	a.UpdatedAt = now
}

// StartMaintenance opens a maintenance cycle. Illegal once OutOfService.
func (a *Asset) StartMaintenance(record MaintenanceRecord, now time.Time) error {
	if a.Status == StatusOutOfService {
		return invalidTransition("start maintenance", a.Status)
	}
	if strings.TrimSpace(record.Description) == "" {
		return dErrors.New(dErrors.CodeValidation, "maintenance description is required")
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	record.CompletedAt = time.Time{}
	record.ResultingCondition = ""
	a.MaintenanceHistory = append(a.MaintenanceHistory, record)
	a.Status = StatusInMaintenance
	a.UpdatedAt = now
	return nil
}

// CompleteMaintenance closes the open cycle. The asset goes OutOfService when
// the resulting condition is Retired, else back to Available.
func (a *Asset) CompleteMaintenance(result Condition, now time.Time) error {
	if a.Status != StatusInMaintenance {
		return invalidTransition("complete maintenance", a.Status)
	}
	if !result.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid condition: %q", result))
	}
	if n := len(a.MaintenanceHistory); n > 0 && a.MaintenanceHistory[n-1].CompletedAt.IsZero() {
		a.MaintenanceHistory[n-1].CompletedAt = now
		a.MaintenanceHistory[n-1].ResultingCondition = result
	}
	a.Condition = result
	if result == ConditionRetired {
		a.Status = StatusOutOfService
	} else {
		a.Status = StatusAvailable
	}
	a.UpdatedAt = now
	return nil
}

// UpdateCondition records an inspection result. Retired forces OutOfService
// regardless of the current status.
func (a *Asset) UpdateCondition(condition Condition, now time.Time) error {
	if !condition.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid condition: %q", condition))
	}
	a.Condition = condition
	if condition == ConditionRetired {
		a.Status = StatusOutOfService
	}
	a.UpdatedAt = now
	return nil
}

// Decommission takes an Available asset out of service.
func (a *Asset) Decommission(now time.Time) error {
	if a.Status != StatusAvailable {
		return invalidTransition("decommission asset", a.Status)
	}
	a.Status = StatusOutOfService
	a.UpdatedAt = now
	return nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (a *Asset) Clone() *Asset {
	c := *a
	c.MaintenanceHistory = append([]MaintenanceRecord(nil), a.MaintenanceHistory...)
	return &c
}
