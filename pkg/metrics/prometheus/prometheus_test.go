package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/smbtran/pkg/metrics"
	"github.com/marmos91/smbtran/pkg/transport"
)

func enable(t *testing.T) {
	t.Helper()
	metrics.Reset()
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)
}

func TestDisabledReturnsNil(t *testing.T) {
	metrics.Reset()
	assert.Nil(t, NewTransportMetrics())
	assert.Nil(t, NewResponderMetrics())
	assert.Nil(t, NewSessionMetrics())
}

func TestConstructorsRegistered(t *testing.T) {
	enable(t)
	assert.NotNil(t, metrics.NewTransportMetrics())
	assert.NotNil(t, metrics.NewResponderMetrics())
	assert.NotNil(t, metrics.NewSessionMetrics())
}

func TestTransportMetrics(t *testing.T) {
	enable(t)

	m := NewTransportMetrics()
	require.NotNil(t, m)
	assert.Same(t, m, NewTransportMetrics(), "collectors are shared per registry")

	tm := m.(*transportMetrics)
	fam := transport.FamilyNBTCP

	m.RecordStateChange(fam, transport.StateConnecting, transport.StateConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(tm.connected.WithLabelValues("nbtcp")))
	m.RecordStateChange(fam, transport.StateConnected, transport.StateFatal)
	assert.Equal(t, 0.0, testutil.ToFloat64(tm.connected.WithLabelValues("nbtcp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tm.stateChanges.WithLabelValues("nbtcp", "CONNECTED", "FATAL")))

	m.RecordFrame(fam, "send", 4096)
	m.RecordFrame(fam, "send", 10)
	assert.Equal(t, 2.0, testutil.ToFloat64(tm.frames.WithLabelValues("nbtcp", "send")))

	m.ObserveOperation(fam, "receive", 3*time.Millisecond, transport.CodeOK)
	m.ObserveOperation(fam, "receive", time.Second, transport.CodeTimeout)
	assert.Equal(t, 1.0, testutil.ToFloat64(tm.opErrors.WithLabelValues("nbtcp", "receive", "TIMEOUT")))

	m.RecordFatal(fam, transport.CodeFrameTooLarge)
	assert.Equal(t, 1.0, testutil.ToFloat64(tm.fatals.WithLabelValues("nbtcp", "FRAME_TOO_LARGE")))

	count, err := testutil.GatherAndCount(metrics.GetRegistry(), "smbtran_transport_operation_duration_milliseconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResponderMetrics(t *testing.T) {
	enable(t)

	m := NewResponderMetrics()
	require.NotNil(t, m)
	rm := m.(*responderMetrics)

	m.RecordConnectionAccepted()
	m.SetActiveConnections(3)
	m.RecordSessionRequest(true)
	m.RecordSessionRequest(false)
	m.RecordEcho(512)
	m.RecordConnectionClosed()
	m.RecordConnectionForceClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(rm.accepted))
	assert.Equal(t, 3.0, testutil.ToFloat64(rm.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.sessionRequests.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.sessionRequests.WithLabelValues("refused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.echoes))
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.forceClosed))
}

func TestSessionMetrics(t *testing.T) {
	enable(t)

	m := NewSessionMetrics()
	require.NotNil(t, m)
	sm := m.(*sessionMetrics)
	fam := transport.FamilyNBTCP

	m.RecordConnectAttempt(fam, transport.CodeTimeout)
	m.RecordConnectAttempt(fam, transport.CodeOK)
	m.RecordLost(fam, transport.CodeConnectionReset)
	m.RecordReconnect(fam, true)
	m.ObserveRequest(fam, 2*time.Millisecond, transport.CodeOK)

	assert.Equal(t, 1.0, testutil.ToFloat64(sm.connectAttempts.WithLabelValues("nbtcp", "TIMEOUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.lost.WithLabelValues("nbtcp", "CONNECTION_RESET")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.reconnects.WithLabelValues("nbtcp", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.requests.WithLabelValues("nbtcp", "OK")))
}
