package domain

import (
	"fmt"

	"github.com/google/uuid"

	dErrors "custody/pkg/domain-errors"
)

// Typed identifiers keep asset, kit, manifest and form references from being
// mixed up at call sites. All of them are UUIDs on the wire and in storage.
type (
	AssetID     uuid.UUID
	KitID       uuid.UUID
	ManifestID  uuid.UUID
	FormID      uuid.UUID
	SignatureID uuid.UUID
	FacilityID  uuid.UUID
	PollSiteID  uuid.UUID
	ElectionID  uuid.UUID
)

func NewAssetID() AssetID         { return AssetID(uuid.New()) }
func NewKitID() KitID             { return KitID(uuid.New()) }
func NewManifestID() ManifestID   { return ManifestID(uuid.New()) }
func NewFormID() FormID           { return FormID(uuid.New()) }
func NewSignatureID() SignatureID { return SignatureID(uuid.New()) }

func (i AssetID) String() string     { return uuid.UUID(i).String() }
func (i KitID) String() string       { return uuid.UUID(i).String() }
func (i ManifestID) String() string  { return uuid.UUID(i).String() }
func (i FormID) String() string      { return uuid.UUID(i).String() }
func (i SignatureID) String() string { return uuid.UUID(i).String() }
func (i FacilityID) String() string  { return uuid.UUID(i).String() }
func (i PollSiteID) String() string  { return uuid.UUID(i).String() }
func (i ElectionID) String() string  { return uuid.UUID(i).String() }

func (i AssetID) IsNil() bool     { return uuid.UUID(i) == uuid.Nil }
func (i KitID) IsNil() bool       { return uuid.UUID(i) == uuid.Nil }
func (i ManifestID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }
func (i FormID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }
func (i SignatureID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }
func (i FacilityID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }
func (i PollSiteID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }
func (i ElectionID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }

// Text marshalling makes the identifiers encode as canonical UUID strings in
// JSON instead of 16-element byte arrays.

func (i AssetID) MarshalText() ([]byte, error)     { return uuid.UUID(i).MarshalText() }
func (i KitID) MarshalText() ([]byte, error)       { return uuid.UUID(i).MarshalText() }
func (i ManifestID) MarshalText() ([]byte, error)  { return uuid.UUID(i).MarshalText() }
func (i FormID) MarshalText() ([]byte, error)      { return uuid.UUID(i).MarshalText() }
func (i SignatureID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i FacilityID) MarshalText() ([]byte, error)  { return uuid.UUID(i).MarshalText() }
func (i PollSiteID) MarshalText() ([]byte, error)  { return uuid.UUID(i).MarshalText() }
func (i ElectionID) MarshalText() ([]byte, error)  { return uuid.UUID(i).MarshalText() }

func (i *AssetID) UnmarshalText(b []byte) error     { return unmarshalID(i, b) }
func (i *KitID) UnmarshalText(b []byte) error       { return unmarshalID(i, b) }
func (i *ManifestID) UnmarshalText(b []byte) error  { return unmarshalID(i, b) }
func (i *FormID) UnmarshalText(b []byte) error      { return unmarshalID(i, b) }
func (i *SignatureID) UnmarshalText(b []byte) error { return unmarshalID(i, b) }
func (i *FacilityID) UnmarshalText(b []byte) error  { return unmarshalID(i, b) }
func (i *PollSiteID) UnmarshalText(b []byte) error  { return unmarshalID(i, b) }
func (i *ElectionID) UnmarshalText(b []byte) error  { return unmarshalID(i, b) }

func unmarshalID[T ~[16]byte](dst *T, b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*dst = T(u)
	return nil
}

// parseID validates a raw identifier at a trust boundary. The field name is
// echoed back in the validation message.
func parseID[T ~[16]byte](raw, field string) (T, error) {
	if raw == "" {
		return T{}, dErrors.New(dErrors.CodeValidation, field+" is required")
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return T{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid %s: %q", field, raw))
	}
	if u == uuid.Nil {
		return T{}, dErrors.New(dErrors.CodeValidation, field+" is required")
	}
	return T(u), nil
}

func ParseAssetID(raw string) (AssetID, error)       { return parseID[AssetID](raw, "asset_id") }
func ParseKitID(raw string) (KitID, error)           { return parseID[KitID](raw, "kit_id") }
func ParseManifestID(raw string) (ManifestID, error) { return parseID[ManifestID](raw, "manifest_id") }
func ParseFormID(raw string) (FormID, error)         { return parseID[FormID](raw, "form_id") }
func ParseSignatureID(raw string) (SignatureID, error) {
	return parseID[SignatureID](raw, "signature_id")
}
func ParseFacilityID(raw string) (FacilityID, error) { return parseID[FacilityID](raw, "facility_id") }
func ParsePollSiteID(raw string) (PollSiteID, error) { return parseID[PollSiteID](raw, "poll_site_id") }
func ParseElectionID(raw string) (ElectionID, error) { return parseID[ElectionID](raw, "election_id") }
