package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hislip/client"
)

func newSession(t *testing.T, address string) *client.Session {
	t.Helper()

	cfg, err := client.NewSessionConfig(address)
	require.NoError(t, err)

	s, err := client.NewSession(context.Background(), cfg)
	require.NoError(t, err)

	return s
}

// TestCollector_Collect verifies the exported values and labels.
func TestCollector_Collect(t *testing.T) {
	require := require.New(t)

	c := NewCollector()
	require.Zero(testutil.CollectAndCount(c))

	dmm := newSession(t, "TCPIP::10.0.0.1::hislip0::INSTR")
	dmm.Metrics().ErrorCount.Add(3)
	dmm.Metrics().ConnRetryGauge.Store(2)
	c.Register("dmm", dmm)
	require.Equal(1, c.Len())

	expected := `
# HELP hislip_errors_total Number of non-fatal errors.
# TYPE hislip_errors_total counter
hislip_errors_total{address="TCPIP::10.0.0.1::hislip0,4880::INSTR",session="dmm"} 3
# HELP hislip_connect_retries Number of failed handshakes since the last successful one.
# TYPE hislip_connect_retries gauge
hislip_connect_retries{address="TCPIP::10.0.0.1::hislip0,4880::INSTR",session="dmm"} 2
# HELP hislip_session_up Whether the session is ready (1) or not (0).
# TYPE hislip_session_up gauge
hislip_session_up{address="TCPIP::10.0.0.1::hislip0,4880::INSTR",session="dmm"} 0
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"hislip_errors_total", "hislip_connect_retries", "hislip_session_up")
	require.NoError(err)

	c.Register("scope", newSession(t, "TCPIP::10.0.0.2::hislip1,5000::INSTR"))
	require.Equal(2*len(c.metrics), testutil.CollectAndCount(c))
	require.Equal(2, testutil.CollectAndCount(c, "hislip_fatal_errors_total"))

	c.Unregister("dmm")
	c.Unregister("scope")
	require.Zero(c.Len())
	require.Zero(testutil.CollectAndCount(c))
}

// TestCollector_Register verifies that the collector can be registered with a registry.
func TestCollector_Register(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewPedanticRegistry()
	c := NewCollector(
		WithNamespace("lab"),
		WithConstLabels(prometheus.Labels{"site": "fab1"}),
	)
	require.NoError(reg.Register(c))

	c.Register("dmm", newSession(t, "TCPIP::10.0.0.1::hislip0::INSTR"))

	count, err := testutil.GatherAndCount(reg, "lab_connects_total", "lab_session_up")
	require.NoError(err)
	require.Equal(2, count)

	problems, err := testutil.GatherAndLint(reg)
	require.NoError(err)
	require.Empty(problems)
}
