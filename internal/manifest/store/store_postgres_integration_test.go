//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custody/internal/manifest/models"
	"custody/internal/manifest/store"
	id "custody/pkg/domain"
	"custody/pkg/platform/sentinel"
	txcontext "custody/pkg/platform/tx"
	"custody/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.now = time.Date(2026, 10, 3, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background()))
}

func (s *PostgresStoreSuite) newManifest(number string, assets ...id.AssetID) *models.Manifest {
	m, err := models.NewManifest(id.NewManifestID(), number,
		id.FacilityID(id.NewManifestID()), id.PollSiteID(id.NewManifestID()),
		id.ElectionID(id.NewManifestID()), s.now)
	s.Require().NoError(err)
	for i, a := range assets {
		s.Require().NoError(m.AddItem(a, number+"-SEAL-"+string(rune('A'+i)), s.now))
	}
	return m
}

func (s *PostgresStoreSuite) TestRoundTripPreservesItemOrder() {
	ctx := context.Background()
	a1, a2, a3 := id.NewAssetID(), id.NewAssetID(), id.NewAssetID()
	m := s.newManifest("MAN-PG-1", a3, a1, a2)
	s.Require().NoError(s.store.Create(ctx, m))

	found, err := s.store.FindByID(ctx, m.ID)
	s.Require().NoError(err)
	s.Equal([]id.AssetID{a3, a1, a2}, found.AssetIDs())
	s.True(found.KitID.IsNil())
	s.True(found.PackedAt.IsZero())

	kitID := id.NewKitID()
	found.LinkKit(kitID, s.now)
	s.Require().NoError(found.ReadyForPacking(s.now))
	for _, a := range []id.AssetID{a1, a2, a3} {
		s.Require().NoError(found.MarkItemPacked(a, "packer", s.now.Add(time.Minute)))
	}
	s.Require().NoError(s.store.Update(ctx, found))

	again, err := s.store.FindByNumber(ctx, "MAN-PG-1")
	s.Require().NoError(err)
	s.Equal(models.StatusFullyPacked, again.Status)
	s.Equal(kitID, again.KitID)
	s.Equal(3, again.PackedCount())
	s.Equal("packer", again.Items[0].PackedBy)
	s.True(again.PackedAt.Equal(s.now.Add(time.Minute)))
}

func (s *PostgresStoreSuite) TestDuplicateNumberAndMissing() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.newManifest("MAN-PG-2")))
	s.ErrorIs(s.store.Create(ctx, s.newManifest("MAN-PG-2")), sentinel.ErrAlreadyUsed)

	_, err := s.store.FindByID(ctx, id.NewManifestID())
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Update(ctx, s.newManifest("MAN-PG-3")), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestWritesRollBackWithSurroundingTransaction() {
	ctx := context.Background()
	m := s.newManifest("MAN-PG-4", id.NewAssetID())
	runner := txcontext.NewPostgres(s.postgres.DB)

	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, m); err != nil {
			return err
		}
		return sentinel.ErrUnavailable
	})
	s.ErrorIs(err, sentinel.ErrUnavailable)

	_, err = s.store.FindByID(ctx, m.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
