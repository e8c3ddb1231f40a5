package service

import (
	kitModels "custody/internal/kit/models"
	manifestModels "custody/internal/manifest/models"
	id "custody/pkg/domain"
)

// CreateManifestRequest asks for a manifest that ships the given assets from
// a facility to a poll site.
type CreateManifestRequest struct {
	PollSiteID     id.PollSiteID `json:"pollSiteId"`
	ElectionID     id.ElectionID `json:"electionId"`
	FromFacilityID id.FacilityID `json:"fromFacilityId"`
	AssetIDs       []id.AssetID  `json:"assetIds"`
}

// CreateManifestResult is the manifest in ReadyForPacking together with the
// kit that was assembled for it.
type CreateManifestResult struct {
	Manifest *manifestModels.Manifest
	Kit      *kitModels.Kit
}

// KitOutcome says what finish-packing did to the manifest's kit.
type KitOutcome string

const (
	KitPacked            KitOutcome = "packed"
	KitAssignedAndPacked KitOutcome = "assigned_and_packed"
	KitAlreadyPacked     KitOutcome = "already_packed"
	KitSkippedStatus     KitOutcome = "skipped_status"
	KitNotFound          KitOutcome = "not_found"
	KitFailed            KitOutcome = "failed"
)

// KitReconciliation reports the best-effort kit update made while finishing
// a manifest. Warning is set for every outcome other than a fresh pack.
type KitReconciliation struct {
	Outcome   KitOutcome       `json:"outcome"`
	KitID     id.KitID         `json:"kit_id,omitzero"`
	KitStatus kitModels.Status `json:"kit_status,omitempty"`
	Warning   string           `json:"warning,omitempty"`
}

// FinishPackingResult carries the persisted manifest and the kit outcome.
// Kit problems never fail the call; they surface here instead.
type FinishPackingResult struct {
	Manifest *manifestModels.Manifest
	Kit      KitReconciliation
}
