package client

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc, see the metrics package.
type ConnectionMetrics struct {
	// MsgSendCount indicates the number of messages sent on both channels.
	MsgSendCount atomic.Uint64
	// MsgRecvCount indicates the number of messages received on both channels.
	MsgRecvCount atomic.Uint64
	// BytesSent indicates the number of bytes sent on both channels, headers included.
	BytesSent atomic.Uint64
	// BytesRecv indicates the number of bytes received on both channels, headers included.
	BytesRecv atomic.Uint64

	// StaleMsgCount indicates the number of Data and DataEnd messages discarded because of a message id mismatch.
	StaleMsgCount atomic.Uint64
	// InterruptedCount indicates the number of Interrupted and AsyncInterrupted messages received.
	InterruptedCount atomic.Uint64

	// ErrorCount indicates the number of non-fatal errors.
	ErrorCount atomic.Uint64
	// FatalErrCount indicates the number of fatal errors that closed the session.
	FatalErrCount atomic.Uint64

	// ConnectCount indicates the number of successful handshakes.
	ConnectCount atomic.Uint64
	// ConnRetryGauge indicates the number of failed handshake attempts since the last successful one.
	ConnRetryGauge atomic.Uint32
}

func (m *ConnectionMetrics) incMsgSend(size int) {
	m.MsgSendCount.Add(1)
	m.BytesSent.Add(uint64(size))
}

func (m *ConnectionMetrics) incMsgRecv(size int) {
	m.MsgRecvCount.Add(1)
	m.BytesRecv.Add(uint64(size))
}

func (m *ConnectionMetrics) incStaleMsgCount() {
	m.StaleMsgCount.Add(1)
}

func (m *ConnectionMetrics) incInterruptedCount() {
	m.InterruptedCount.Add(1)
}

func (m *ConnectionMetrics) incErrorCount() {
	m.ErrorCount.Add(1)
}

func (m *ConnectionMetrics) incFatalErrCount() {
	m.FatalErrCount.Add(1)
}

func (m *ConnectionMetrics) incConnectCount() {
	m.ConnectCount.Add(1)
}

func (m *ConnectionMetrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *ConnectionMetrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}
