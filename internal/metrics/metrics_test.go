package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRealtimeEvent(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		outcome   string
	}{
		{"delivered relay", "sendRealtime", OutcomeDelivered},
		{"recipient offline", "sendRealtime", OutcomeDropped},
		{"before identify", "typing", OutcomeRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := RealtimeEvents.WithLabelValues(tt.eventType, tt.outcome)
			before := testutil.ToFloat64(counter)

			RecordRealtimeEvent(tt.eventType, tt.outcome)

			if got := testutil.ToFloat64(counter); got != before+1 {
				t.Errorf("counter = %v, want %v", got, before+1)
			}
		})
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.CollectAndCount(HTTPRequestDuration)

	RecordHTTPRequest("/api/messages/{conversationId}", http.MethodGet, http.StatusOK, 12*time.Millisecond)
	RecordHTTPRequest("", http.MethodGet, http.StatusNotFound, time.Millisecond)

	if got := testutil.CollectAndCount(HTTPRequestDuration); got < before+2 {
		t.Errorf("histogram series = %d, want at least %d", got, before+2)
	}
}

func TestGauges(t *testing.T) {
	WSConnections.Set(0)
	WSConnections.Inc()
	WSConnections.Inc()
	WSConnections.Dec()
	if got := testutil.ToFloat64(WSConnections); got != 1 {
		t.Errorf("WSConnections = %v, want 1", got)
	}

	OnlineUsers.Set(3)
	if got := testutil.ToFloat64(OnlineUsers); got != 3 {
		t.Errorf("OnlineUsers = %v, want 3", got)
	}
}
