package sweep

//go:generate mockgen -source=sweep.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"custody/internal/custody/metrics"
	"custody/internal/custody/models"
	custodyStore "custody/internal/custody/store"
	"custody/internal/custody/sweep/mocks"
	id "custody/pkg/domain"
	"custody/pkg/platform/idgen"
	"custody/pkg/requestcontext"
)

var sweepNow = time.Date(2026, 10, 7, 12, 0, 0, 0, time.UTC)

// newForm builds a form created age ago. expiresIn of zero means no expiry.
func newForm(t *testing.T, age, expiresIn time.Duration, required, signed int) *models.Form {
	t.Helper()
	created := sweepNow.Add(-age)
	form, err := models.NewForm(id.NewFormID(), id.NewManifestID(), idgen.FormPublicID(), "/coc/form", required, 0, created)
	require.NoError(t, err)
	if expiresIn != 0 {
		form.ExpiresAt = sweepNow.Add(expiresIn)
	}
	for range signed {
		form.AddSignature(created.Add(time.Minute))
	}
	return form
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		form *models.Form
		want []Class
	}{
		{"fresh form", newForm(t, time.Hour, 30*24*time.Hour, 2, 0), nil},
		{"unsigned after a day", newForm(t, 25*time.Hour, 0, 2, 0), []Class{ClassNoSignatures}},
		{"unsigned just under a day", newForm(t, 23*time.Hour, 0, 2, 0), nil},
		{"partially signed after two days", newForm(t, 49*time.Hour, 0, 2, 1), []Class{ClassIncomplete}},
		{"partially signed after thirty hours", newForm(t, 30*time.Hour, 0, 2, 1), nil},
		{"expired and unsigned", newForm(t, 72*time.Hour, -time.Hour, 2, 0), []Class{ClassExpired, ClassNoSignatures}},
		{"expiring soon", newForm(t, time.Hour, 3*time.Hour, 2, 1), []Class{ClassExpiringSoon}},
		{"expiring soon and unsigned", newForm(t, 25*time.Hour, 3*time.Hour, 2, 0), []Class{ClassNoSignatures, ClassExpiringSoon}},
		{"expires in five hours", newForm(t, time.Hour, 5*time.Hour, 2, 0), nil},
		{"completed", newForm(t, 96*time.Hour, -time.Hour, 2, 2), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.form, sweepNow))
		})
	}
}

func TestEvaluateBuildsMessages(t *testing.T) {
	form := newForm(t, 49*time.Hour, 0, 3, 1)
	alerts := Evaluate([]*models.Form{form}, sweepNow)
	require.Len(t, alerts, 1)
	assert.Equal(t, form.ID, alerts[0].FormID)
	assert.Equal(t, form.ManifestID, alerts[0].ManifestID)
	assert.Equal(t, ClassIncomplete, alerts[0].Class)
	assert.Contains(t, alerts[0].Message, "1 of 3 signatures")
	assert.Contains(t, alerts[0].Message, form.PublicID)
}

// =============================================================================
// Sweeper Test Suite
// =============================================================================

type SweeperSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	notifier *mocks.MockNotifier
	store    *custodyStore.InMemory
	metrics  *metrics.Metrics
	sweeper  *Sweeper
	ctx      context.Context
}

func TestSweeperSuite(t *testing.T) {
	suite.Run(t, new(SweeperSuite))
}

func (s *SweeperSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.store = custodyStore.NewInMemory()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.sweeper = New(s.store, s.notifier,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	)
	s.ctx = requestcontext.WithTime(context.Background(), sweepNow)
}

func (s *SweeperSuite) save(form *models.Form) {
	s.Require().NoError(s.store.CreateForm(context.Background(), form))
}

func (s *SweeperSuite) TestUnsignedFormIsReportedOnce() {
	form := newForm(s.T(), 25*time.Hour, 0, 2, 0)
	s.save(form)

	s.notifier.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg string) error {
			s.Contains(msg, form.PublicID)
			s.Contains(msg, "no signatures")
			return nil
		}).
		Times(1)

	report := s.sweeper.Sweep(s.ctx)
	s.Equal(Report{Forms: 1, Alerts: 1, Delivered: 1}, report)
	s.InDelta(1, promtestutil.ToFloat64(s.metrics.SweepAlerts.WithLabelValues("no_signatures")), 0)
}

func (s *SweeperSuite) TestOneNotificationPerClass() {
	s.save(newForm(s.T(), 72*time.Hour, -time.Hour, 2, 0))
	s.save(newForm(s.T(), time.Hour, 30*24*time.Hour, 2, 0))

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	report := s.sweeper.Sweep(s.ctx)
	s.Equal(2, report.Forms)
	s.Equal(2, report.Alerts)
	s.Equal(2, report.Delivered)
}

func (s *SweeperSuite) TestCompletedFormsAreSkipped() {
	s.save(newForm(s.T(), 96*time.Hour, -time.Hour, 1, 1))

	report := s.sweeper.Sweep(s.ctx)
	s.Equal(Report{}, report)
}

func (s *SweeperSuite) TestNotificationFailuresAreCountedNotReturned() {
	s.save(newForm(s.T(), 25*time.Hour, 0, 2, 0))
	s.save(newForm(s.T(), 49*time.Hour, 0, 2, 1))

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(errors.New("broker unavailable")).Times(2)

	report := s.sweeper.Sweep(s.ctx)
	s.Equal(2, report.Alerts)
	s.Equal(0, report.Delivered)
	s.Equal(2, report.Failed)
	s.InDelta(2, promtestutil.ToFloat64(s.metrics.NotificationFailures), 0)
}

func (s *SweeperSuite) TestNotifierPanicIsContained() {
	s.save(newForm(s.T(), 25*time.Hour, 0, 2, 0))
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, string) error {
		panic("nil producer")
	})

	var report Report
	s.NotPanics(func() { report = s.sweeper.Sweep(s.ctx) })
	s.Equal(1, report.Failed)
}

func (s *SweeperSuite) TestStoreFailureIsSwallowed() {
	store := mocks.NewMockStore(s.ctrl)
	store.EXPECT().ListNonTerminalForms(gomock.Any()).Return(nil, errors.New("connection refused"))
	sweeper := New(store, s.notifier, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	s.Equal(Report{}, sweeper.Sweep(s.ctx))

	_, err := sweeper.Alerts(s.ctx)
	s.Error(err)
}

func (s *SweeperSuite) TestAlertsDoNotNotify() {
	s.save(newForm(s.T(), 25*time.Hour, 3*time.Hour, 2, 0))

	alerts, err := s.sweeper.Alerts(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(alerts, 2)
	s.Equal(ClassNoSignatures, alerts[0].Class)
	s.Equal(ClassExpiringSoon, alerts[1].Class)

	messages, err := s.sweeper.Messages(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{alerts[0].Message, alerts[1].Message}, messages)
}

func (s *SweeperSuite) TestWorkerSweepsUntilCancelled() {
	s.save(newForm(s.T(), 25*time.Hour, 0, 2, 0))
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, string) error {
		cancel()
		return nil
	})

	err := NewWorker(s.sweeper, time.Hour).Run(ctx)
	s.ErrorIs(err, context.Canceled)
}
