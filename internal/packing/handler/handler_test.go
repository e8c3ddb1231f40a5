package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	assetModels "custody/internal/asset/models"
	assetStore "custody/internal/asset/store"
	kitModels "custody/internal/kit/models"
	kitStore "custody/internal/kit/store"
	manifestModels "custody/internal/manifest/models"
	manifestStore "custody/internal/manifest/store"
	"custody/internal/packing/service"
	id "custody/pkg/domain"
	"custody/pkg/platform/middleware/requesttime"
	"custody/pkg/platform/tx"
	"custody/pkg/testutil"
)

type PackingHandlerSuite struct {
	suite.Suite
	assets *assetStore.InMemory
	router http.Handler
	now    time.Time
}

func TestPackingHandlerSuite(t *testing.T) {
	suite.Run(t, new(PackingHandlerSuite))
}

func (s *PackingHandlerSuite) SetupTest() {
	s.now = time.Date(2026, 10, 7, 10, 0, 0, 0, time.UTC)
	s.assets = assetStore.NewInMemory()
	svc := service.New(s.assets, kitStore.NewInMemory(), manifestStore.NewInMemory(), tx.NewShardedMemory())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	r.Use(requesttime.MiddlewareWithClock(func() time.Time { return s.now }))
	New(svc, logger).Register(r)
	s.router = r
}

func (s *PackingHandlerSuite) availableAsset(serial string) id.AssetID {
	asset, err := assetModels.NewAsset(id.NewAssetID(), serial, assetModels.TypePollbook, s.now)
	s.Require().NoError(err)
	s.Require().NoError(asset.Register("BC-"+serial, "", s.now))
	s.Require().NoError(s.assets.CreateIfSerialAvailable(context.Background(), asset))
	return asset.ID
}

func (s *PackingHandlerSuite) createManifest(assetIDs ...id.AssetID) *createManifestResponse {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/manifests", map[string]any{
		"pollSiteId":     id.NewAssetID().String(),
		"electionId":     id.NewAssetID().String(),
		"fromFacilityId": id.NewAssetID().String(),
		"assetIds":       assetIDs,
	})
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	return testutil.UnmarshalResponse[createManifestResponse](s.T(), rr)
}

func (s *PackingHandlerSuite) TestPackingWorkflow() {
	a1, a2 := s.availableAsset("PB-1"), s.availableAsset("PB-2")
	created := s.createManifest(a1, a2)
	s.Equal(manifestModels.StatusReadyForPacking, created.Status)
	s.Len(created.Items, 2)
	s.False(created.KitID.IsNil())
	base := "/manifests/" + created.ManifestID.String()

	s.Run("pack one item with the packer header", func() {
		req := testutil.NewRequest(s.T(), http.MethodPost, base+"/items/"+a1.String()+"/pack")
		req.Header.Set(HeaderPackedBy, "alice")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)

		m := testutil.UnmarshalResponse[manifestModels.Manifest](s.T(), rr)
		s.Equal(manifestModels.StatusPartiallyPacked, m.Status)
		s.Equal("alice", m.Items[0].PackedBy)
	})

	s.Run("packing it again is a conflict", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, base+"/items/"+a1.String()+"/pack",
			map[string]string{"packedBy": "bob"})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "duplicate_operation")
	})

	s.Run("finish packing reports the kit", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, base+"/finish-packing"))
		testutil.AssertStatusOK(s.T(), rr)

		resp := testutil.UnmarshalResponse[finishPackingResponse](s.T(), rr)
		s.Equal(manifestModels.StatusFullyPacked, resp.Manifest.Status)
		s.Equal(service.KitPacked, resp.Kit.Outcome)
		s.Equal(created.KitID, resp.Kit.KitID)
	})

	s.Run("packed kit is marked ready for dispatch", func() {
		path := "/kits/" + created.KitID.String() + "/ready-for-dispatch"
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, path))
		testutil.AssertStatusOK(s.T(), rr)
		kit := testutil.UnmarshalResponse[kitModels.Kit](s.T(), rr)
		s.Equal(kitModels.StatusReadyForDispatch, kit.Status)

		rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, path))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "invalid_state")
	})

	s.Run("complete and read back", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, base+"/complete"))
		testutil.AssertStatusOK(s.T(), rr)

		rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, base))
		testutil.AssertStatusOK(s.T(), rr)
		m := testutil.UnmarshalResponse[manifestModels.Manifest](s.T(), rr)
		s.Equal(manifestModels.StatusCompleted, m.Status)
		s.True(s.now.Equal(m.CompletedAt))
	})
}

func (s *PackingHandlerSuite) TestErrors() {
	s.Run("malformed body", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/manifests", "{")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("asset not available", func() {
		a := s.availableAsset("PB-3")
		s.createManifest(a)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/manifests", map[string]any{
			"pollSiteId":     id.NewAssetID().String(),
			"electionId":     id.NewAssetID().String(),
			"fromFacilityId": id.NewAssetID().String(),
			"assetIds":       []id.AssetID{a},
		})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		body := testutil.UnmarshalErrorResponse(s.T(), rr)
		s.Equal("validation_error", body["error"])
		s.Contains(body["error_description"], "Assigned")
	})

	s.Run("invalid manifest id", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/manifests/not-a-uuid/finish-packing"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("unknown kit", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/kits/"+id.NewKitID().String()+"/ready-for-dispatch"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("unknown manifest", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/manifests/"+id.NewManifestID().String()))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}
