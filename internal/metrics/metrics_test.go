package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRegistryIsNoop(t *testing.T) {
	m := New(nil)
	_, ok := m.(noop)
	assert.True(t, ok)
	m.PacketSent("TOCLIENT_BLOCKDATA", 10)
	m.ObserveStep(time.Millisecond)
}

func TestCountersRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg).(*promMetrics)

	m.BlocksSent(3)
	m.PacketSent("TOCLIENT_BLOCKDATA", 100)
	m.PacketSent("TOCLIENT_BLOCKDATA", 20)
	m.SetClients("Active", 2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.blocksSent))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.bytesSent.WithLabelValues("TOCLIENT_BLOCKDATA")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.clients.WithLabelValues("Active")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "voxelsync_blocks_sent_total 3"))
}

func TestDisabledHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
