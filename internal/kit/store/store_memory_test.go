package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custody/internal/kit/models"
	id "custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

type KitStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestKitStoreSuite(t *testing.T) {
	suite.Run(t, new(KitStoreSuite))
}

func (s *KitStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 10, 3, 12, 0, 0, 0, time.UTC)
}

func (s *KitStoreSuite) newKit(name string, created time.Time, assets ...id.AssetID) *models.Kit {
	kit, err := models.NewKit(id.NewKitID(), name, created)
	s.Require().NoError(err)
	for _, a := range assets {
		s.Require().NoError(kit.AddAsset(a, "", created))
	}
	s.Require().NoError(s.store.Create(s.ctx, kit))
	return kit
}

func (s *KitStoreSuite) TestCreateFindUpdate() {
	asset := id.NewAssetID()
	kit := s.newKit("KIT-1", s.now, asset)

	s.ErrorIs(s.store.Create(s.ctx, kit), sentinel.ErrAlreadyUsed)

	found, err := s.store.FindByID(s.ctx, kit.ID)
	s.Require().NoError(err)
	s.Equal([]id.AssetID{asset}, found.AssetIDs())

	s.Require().NoError(found.AssignToPollSite(id.PollSiteID(id.NewKitID()), s.now))
	s.Require().NoError(s.store.Update(s.ctx, found))

	again, err := s.store.FindByID(s.ctx, kit.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAssigned, again.Status)

	_, err = s.store.FindByID(s.ctx, id.NewKitID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	other, _ := models.NewKit(id.NewKitID(), "ghost", s.now)
	s.ErrorIs(s.store.Update(s.ctx, other), sentinel.ErrNotFound)
}

func (s *KitStoreSuite) TestFindByStatusWithAnyAsset() {
	shared := id.NewAssetID()
	older := s.newKit("KIT-older", s.now, shared)
	newer := s.newKit("KIT-newer", s.now.Add(time.Minute), shared, id.NewAssetID())
	s.newKit("KIT-unrelated", s.now, id.NewAssetID())

	s.Run("matches by intersection, oldest first", func() {
		kits, err := s.store.FindByStatusWithAnyAsset(s.ctx, models.StatusDraft, []id.AssetID{id.NewAssetID(), shared})
		s.Require().NoError(err)
		s.Require().Len(kits, 2)
		s.Equal(older.ID, kits[0].ID)
		s.Equal(newer.ID, kits[1].ID)
	})

	s.Run("filters by status", func() {
		kits, err := s.store.FindByStatusWithAnyAsset(s.ctx, models.StatusAssigned, []id.AssetID{shared})
		s.Require().NoError(err)
		s.Empty(kits)
	})

	s.Run("no assets matches nothing", func() {
		kits, err := s.store.FindByStatusWithAnyAsset(s.ctx, models.StatusDraft, nil)
		s.Require().NoError(err)
		s.Empty(kits)
	})
}
