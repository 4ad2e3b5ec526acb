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

func TestStartCall_RecordsStatus(t *testing.T) {
	before := testutil.ToFloat64(Calls().WithLabelValues("MetricsModel", "find", "200"))

	done := StartCall("MetricsModel", "find")
	assert.Equal(t, float64(1), testutil.ToFloat64(dispatchInFlight))
	done(200)

	assert.Equal(t, float64(0), testutil.ToFloat64(dispatchInFlight))
	assert.Equal(t, before+1, testutil.ToFloat64(Calls().WithLabelValues("MetricsModel", "find", "200")))
}

func TestStartCall_TransportFailure(t *testing.T) {
	before := testutil.ToFloat64(Calls().WithLabelValues("MetricsModel", "create", "transport_error"))
	StartCall("MetricsModel", "create")(0)
	assert.Equal(t, before+1, testutil.ToFloat64(Calls().WithLabelValues("MetricsModel", "create", "transport_error")))
}

func TestRecordTypeDeclaration(t *testing.T) {
	before := testutil.ToFloat64(TypeDeclarations().WithLabelValues("MetricsChild"))
	RecordTypeDeclaration("MetricsChild")
	assert.Equal(t, before+1, testutil.ToFloat64(TypeDeclarations().WithLabelValues("MetricsChild")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	StartCall("MetricsModel", "count")(200)
	RecordCircuitTransition("closed", "open")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "remote_connector_dispatch_calls_total"))
	assert.True(t, strings.Contains(body, "remote_connector_transport_circuit_transitions_total"))
}
