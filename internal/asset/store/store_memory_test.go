package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custody/internal/asset/models"
	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/sentinel"
)

type AssetStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func (s *AssetStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
}

func TestAssetStoreSuite(t *testing.T) {
	suite.Run(t, new(AssetStoreSuite))
}

func (s *AssetStoreSuite) newAsset(serial string) *models.Asset {
	a, err := models.NewAsset(id.NewAssetID(), serial, models.TypeBallotBox, s.now)
	s.Require().NoError(err)
	s.Require().NoError(a.Register("", "", s.now))
	return a
}

func (s *AssetStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds asset by ID and serial", func() {
		asset := s.newAsset("BB-100")
		s.Require().NoError(s.store.CreateIfSerialAvailable(s.ctx, asset))

		found, err := s.store.FindByID(s.ctx, asset.ID)
		s.Require().NoError(err)
		s.Equal("BB-100", found.SerialNumber)

		found, err = s.store.FindBySerial(s.ctx, "bb-100")
		s.Require().NoError(err)
		s.Equal(asset.ID, found.ID)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.NewAssetID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate serial case-insensitively", func() {
		s.Require().NoError(s.store.CreateIfSerialAvailable(s.ctx, s.newAsset("SC-1")))
		err := s.store.CreateIfSerialAvailable(s.ctx, s.newAsset("sc-1"))
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
	})
}

func (s *AssetStoreSuite) TestReturnedEntitiesAreCopies() {
	asset := s.newAsset("BB-200")
	s.Require().NoError(s.store.CreateIfSerialAvailable(s.ctx, asset))

	found, err := s.store.FindByID(s.ctx, asset.ID)
	s.Require().NoError(err)
	found.Status = models.StatusDeployed

	again, err := s.store.FindByID(s.ctx, asset.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAvailable, again.Status)
}

func (s *AssetStoreSuite) TestListByStatus() {
	first := s.newAsset("A-1")
	second := s.newAsset("A-2")
	second.CreatedAt = s.now.Add(time.Minute)
	other := s.newAsset("A-3")
	other.Status = models.StatusOutOfService
	for _, a := range []*models.Asset{second, other, first} {
		s.Require().NoError(s.store.CreateIfSerialAvailable(s.ctx, a))
	}

	available, err := s.store.ListByStatus(s.ctx, models.StatusAvailable)
	s.Require().NoError(err)
	s.Require().Len(available, 2)
	s.Equal("A-1", available[0].SerialNumber)
	s.Equal("A-2", available[1].SerialNumber)
}

func (s *AssetStoreSuite) TestExecute() {
	asset := s.newAsset("EX-1")
	s.Require().NoError(s.store.CreateIfSerialAvailable(s.ctx, asset))
	kitID := id.NewKitID()

	s.Run("applies mutation after validation", func() {
		updated, err := s.store.Execute(s.ctx, asset.ID,
			func(a *models.Asset) error { return a.CanAssignToKit() },
			func(a *models.Asset) { a.ApplyAssignToKit(kitID, s.now) },
		)
		s.Require().NoError(err)
		s.Equal(models.StatusAssigned, updated.Status)

		stored, _ := s.store.FindByID(s.ctx, asset.ID)
		s.Equal(kitID, stored.KitID)
	})

	s.Run("validation failure leaves asset untouched", func() {
		_, err := s.store.Execute(s.ctx, asset.ID,
			func(a *models.Asset) error { return a.CanAssignToKit() },
			func(a *models.Asset) { a.ApplyAssignToKit(id.NewKitID(), s.now) },
		)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

		stored, _ := s.store.FindByID(s.ctx, asset.ID)
		s.Equal(kitID, stored.KitID)
	})

	s.Run("unknown asset", func() {
		_, err := s.store.Execute(s.ctx, id.NewAssetID(),
			func(*models.Asset) error { return nil },
			func(*models.Asset) {},
		)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
