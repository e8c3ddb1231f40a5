package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

var now = time.Date(2026, 10, 2, 7, 30, 0, 0, time.UTC)

func newKit(t *testing.T) *Kit {
	t.Helper()
	k, err := NewKit(id.NewKitID(), "KIT-test", now)
	require.NoError(t, err)
	return k
}

func pollSite() id.PollSiteID { return id.PollSiteID(id.NewKitID()) }

func TestNewKit(t *testing.T) {
	k := newKit(t)
	assert.Equal(t, StatusDraft, k.Status)
	assert.Empty(t, k.Assets)

	_, err := NewKit(id.NewKitID(), "  ", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestAddAsset_IdempotentWhileDraft(t *testing.T) {
	k := newKit(t)
	assetID := id.NewAssetID()
	require.NoError(t, k.AddAsset(assetID, "packer", now))
	require.NoError(t, k.AddAsset(assetID, "packer", now.Add(time.Minute)))
	require.Len(t, k.Assets, 1)
	assert.Equal(t, now, k.Assets[0].AssignedAt)
	assert.True(t, k.HasAsset(assetID))
}

func TestMembershipChangesOnlyWhileDraft(t *testing.T) {
	k := newKit(t)
	assetID := id.NewAssetID()
	require.NoError(t, k.AddAsset(assetID, "", now))
	require.NoError(t, k.AssignToPollSite(pollSite(), now))

	err := k.AddAsset(id.NewAssetID(), "", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	assert.Contains(t, err.Error(), "Assigned")

	err = k.RemoveAsset(assetID, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	assert.Len(t, k.Assets, 1)
}

func TestRemoveAsset(t *testing.T) {
	k := newKit(t)
	a, b := id.NewAssetID(), id.NewAssetID()
	require.NoError(t, k.AddAsset(a, "", now))
	require.NoError(t, k.AddAsset(b, "", now))

	require.NoError(t, k.RemoveAsset(a, now))
	assert.Equal(t, []id.AssetID{b}, k.AssetIDs())

	assert.True(t, dErrors.HasCode(k.RemoveAsset(a, now), dErrors.CodeNotFound))
}

func TestLifecycle(t *testing.T) {
	k := newKit(t)
	site := pollSite()

	assert.True(t, dErrors.HasCode(k.MarkPacked(now), dErrors.CodeInvalidState), "packing requires Assigned")
	assert.True(t, dErrors.HasCode(k.AssignToPollSite(id.PollSiteID{}, now), dErrors.CodeValidation))

	require.NoError(t, k.AssignToPollSite(site, now))
	assert.Equal(t, StatusAssigned, k.Status)
	assert.Equal(t, site, k.PollSiteID)
	assert.True(t, dErrors.HasCode(k.AssignToPollSite(site, now), dErrors.CodeInvalidState))
	assert.True(t, dErrors.HasCode(k.MarkReadyForDispatch(now), dErrors.CodeInvalidState))

	packedAt := now.Add(time.Hour)
	require.NoError(t, k.MarkPacked(packedAt))
	assert.Equal(t, StatusPacked, k.Status)
	assert.Equal(t, packedAt, k.PackedAt)
	assert.True(t, dErrors.HasCode(k.MarkPacked(now), dErrors.CodeInvalidState))

	require.NoError(t, k.MarkReadyForDispatch(now))
	assert.Equal(t, StatusReadyForDispatch, k.Status)
}

func TestHasAnyAsset(t *testing.T) {
	k := newKit(t)
	a := id.NewAssetID()
	require.NoError(t, k.AddAsset(a, "", now))

	assert.True(t, k.HasAnyAsset(map[id.AssetID]struct{}{a: {}, id.NewAssetID(): {}}))
	assert.False(t, k.HasAnyAsset(map[id.AssetID]struct{}{id.NewAssetID(): {}}))
	assert.False(t, k.HasAnyAsset(nil))
}

func TestSearchOrder(t *testing.T) {
	assert.Equal(t, []Status{StatusDraft, StatusAssigned, StatusPacked, StatusReadyForDispatch}, SearchOrder)
}
