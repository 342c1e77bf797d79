package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("server-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordMessageSent("server-a", "demo.ping", 1, 12)
	RecordMessageSent("server-a", "demo.blob", 3, 4096)
	RecordMessageReceived("server-a", "demo.ping", 12)
	RecordMessageDropped("server-a", "expected_absence")
	RecordFragment("server-a", true)
	RecordViolation("server-a", "unhandled")
}

func TestRecordMessageRelayedCountsRecipients(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(messagesRelayed.WithLabelValues("relay-test", "demo.pong"))
	RecordMessageRelayed("relay-test", "demo.pong", 3)
	after := testutil.ToFloat64(messagesRelayed.WithLabelValues("relay-test", "demo.pong"))
	if after-before != 3 {
		t.Fatalf("relayed delta got=%v want=3", after-before)
	}
}
