package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrapay/sentra/internal/fraudapi"
	"github.com/sentrapay/sentra/internal/logging"
)

type stubLookup struct {
	rec   *fraudapi.ReceiverRecord
	err   error
	delay time.Duration
	calls int
}

func (s *stubLookup) ValidateReceiver(ctx context.Context, dest string) (*fraudapi.ReceiverRecord, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.rec, s.err
}

func ptr[T any](v T) *T { return &v }

func TestResolve(t *testing.T) {
	known := &fraudapi.ReceiverRecord{
		Status: "success", VPA: "sachin@paytm",
		Name: ptr("Sachin Tendulkar"), Bank: ptr("Paytm Payments Bank"),
		Verified: true, ReputationScore: ptr(0.95),
		Metadata: &fraudapi.ReceiverMetadata{AccountAgeDays: 900},
	}
	notFound := &fraudapi.ReceiverRecord{Status: "not_found", VPA: "ghost@upi", Name: ptr(UnknownName)}

	tests := []struct {
		name   string
		dest   string
		lookup *stubLookup
		want   Info
		calls  int
	}{
		{
			name:   "known receiver",
			dest:   " Sachin@Paytm ",
			lookup: &stubLookup{rec: known},
			want: Info{
				Destination: "sachin@paytm", Name: "Sachin Tendulkar", Bank: "Paytm Payments Bank",
				Verified: true, Reputation: 0.95, AccountAgeDays: 900,
			},
			calls: 1,
		},
		{
			name:   "not found",
			dest:   "ghost@upi",
			lookup: &stubLookup{rec: notFound},
			want:   Unknown("ghost@upi"),
			calls:  1,
		},
		{
			name:   "remote failure",
			dest:   "bob@okbank",
			lookup: &stubLookup{err: fraudapi.ErrUnavailable},
			want:   Unknown("bob@okbank"),
			calls:  1,
		},
		{
			name:   "malformed identifier skips lookup",
			dest:   "not-a-handle",
			lookup: &stubLookup{rec: known},
			want:   Unknown("not-a-handle"),
			calls:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.lookup, time.Second, logging.Discard())
			got, err := v.Resolve(context.Background(), tt.dest)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.calls, tt.lookup.calls)
		})
	}
}

func TestResolve_Timeout(t *testing.T) {
	v := NewVerifier(&stubLookup{delay: time.Second}, 20*time.Millisecond, logging.Discard())

	start := time.Now()
	got, err := v.Resolve(context.Background(), "slow@bank")
	require.NoError(t, err)
	assert.True(t, got.IsUnknown())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestResolve_NilLoggerOnLookupFailure(t *testing.T) {
	v := NewVerifier(&stubLookup{err: errors.New("connection refused")}, time.Second, nil)

	var got Info
	require.NotPanics(t, func() {
		var err error
		got, err = v.Resolve(context.Background(), "shop@bank")
		require.NoError(t, err)
	})
	assert.Equal(t, Unknown("shop@bank"), got)
}

func TestResolve_Empty(t *testing.T) {
	v := NewVerifier(nil, time.Second, logging.Discard())
	_, err := v.Resolve(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyDestination)

	got, err := v.Resolve(context.Background(), "bob@okbank")
	require.NoError(t, err)
	assert.Equal(t, Unknown("bob@okbank"), got)
}

func TestFromRecord_ClampsReputation(t *testing.T) {
	info := fromRecord("x@y", &fraudapi.ReceiverRecord{Name: ptr("X"), ReputationScore: ptr(1.7)})
	assert.Equal(t, 1.0, info.Reputation)
}

func TestHandler_Resolve(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lookup := &stubLookup{err: errors.New("down")}
	h := NewHandler(NewVerifier(lookup, time.Second, logging.Discard()))
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/receivers/bob@okbank", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Receiver Info `json:"receiver"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, UnknownName, body.Receiver.Name)
	assert.Equal(t, 0.5, body.Receiver.Reputation)
}
