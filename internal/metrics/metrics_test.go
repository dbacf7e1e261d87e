package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(rowsProcessed.WithLabelValues("success"))
	IncRow("success")
	assert.Equal(t, before+1, testutil.ToFloat64(rowsProcessed.WithLabelValues("success")))

	before = testutil.ToFloat64(tokenRefreshes.WithLabelValues("failure"))
	IncTokenRefresh("failure")
	assert.Equal(t, before+1, testutil.ToFloat64(tokenRefreshes.WithLabelValues("failure")))

	before = testutil.ToFloat64(providerRequests.WithLabelValues("lists", "2xx"))
	IncProviderRequest("lists", "2xx")
	assert.Equal(t, before+1, testutil.ToFloat64(providerRequests.WithLabelValues("lists", "2xx")))

	before = testutil.ToFloat64(syncRuns.WithLabelValues("completed"))
	IncRun("completed")
	assert.Equal(t, before+1, testutil.ToFloat64(syncRuns.WithLabelValues("completed")))
}
