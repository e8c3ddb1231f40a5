package models

import (
	"fmt"
	"time"

	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

// Item is one asset's inclusion in a manifest under a tamper-evident seal.
// An item is packed exactly once; packing it again is an error.
type Item struct {
	AssetID    id.AssetID `json:"asset_id"`
	SealNumber string     `json:"seal_number"`
	IsPacked   bool       `json:"is_packed"`
	PackedBy   string     `json:"packed_by,omitempty"`
	PackedAt   time.Time  `json:"packed_at"`
}

func (it *Item) MarkPacked(packedBy string, now time.Time) error {
	if it.IsPacked {
		return dErrors.New(dErrors.CodeDuplicate, fmt.Sprintf("asset %s is already packed (seal %s)", it.AssetID, it.SealNumber))
	}
	it.IsPacked = true
	it.PackedBy = packedBy
	it.PackedAt = now
	return nil
}
