package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCountsByKind(t *testing.T) {
	r := New()
	r.SaleCreated()
	r.SaleCreated()
	r.SaleReplayed()
	r.Voided(VoidKindItem)
	r.Voided(VoidKindSale)
	r.Voided(VoidKindSale)
	r.VoidFailed(VoidKindOrder)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.salesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.saleReplays))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.voids.WithLabelValues(VoidKindItem)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.voids.WithLabelValues(VoidKindSale)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.voidFailures.WithLabelValues(VoidKindOrder)))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.SaleCreated()
		r.SaleReplayed()
		r.Voided(VoidKindItem)
		r.VoidFailed(VoidKindItem)
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	r := New()
	r.Voided(VoidKindOrder)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `pos_voids_total{kind="order"} 1`), body)
}
