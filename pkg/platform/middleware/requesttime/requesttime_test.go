package requesttime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"custody/pkg/requestcontext"
)

func TestMiddlewareWithClock(t *testing.T) {
	fixed := time.Date(2026, 11, 3, 6, 0, 0, 0, time.UTC)
	var got []time.Time
	h := MiddlewareWithClock(func() time.Time { return fixed })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, requestcontext.Now(r.Context()), requestcontext.Now(r.Context()))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []time.Time{fixed, fixed}, got)
}
