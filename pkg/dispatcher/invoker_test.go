package dispatcher //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ag3/pkg/protocol"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalInvoker(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	inv := &LocalInvoker{nowFunc: func() time.Time { return fixed }}

	out, err := inv.Invoke(context.Background(),
		protocol.Agent{Name: "ag4"},
		protocol.Mission{ID: "m-1", Type: "stripe_checkout_completed", Payload: map[string]any{"eventId": "evt_1"}})
	require.NoError(t, err)
	assert.Equal(t, "ag4", out["agent"])
	assert.Equal(t, "OK", out["status"])
	assert.Equal(t, "stripe_checkout_completed", out["mission"])
	assert.Equal(t, fixed.Format(time.RFC3339Nano), out["ts"])
}

func TestHTTPInvoker_PostsMissionWithHeaders(t *testing.T) {
	var gotToken, gotRequestID string
	var gotMission protocol.Mission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotToken = r.Header.Get(HeaderToken)
		gotRequestID = r.Header.Get(HeaderRequestID)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotMission))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.Client(), "s3cret")
	out, err := inv.Invoke(context.Background(),
		protocol.Agent{Name: "ag4", Endpoint: srv.URL + "/missions"},
		protocol.Mission{ID: "m-7", Type: "outbound_outreach", RequiredCapability: "marketing"})
	require.NoError(t, err)

	assert.Equal(t, "s3cret", gotToken)
	_, perr := uuid.Parse(gotRequestID)
	assert.NoError(t, perr, "request id must be a uuid")
	assert.Equal(t, "m-7", gotMission.ID)
	assert.Equal(t, true, out["accepted"])
	assert.Equal(t, "OK", out["status"])
	assert.Equal(t, "ag4", out["agent"])
	assert.Equal(t, gotRequestID, out["request_id"])
}

func TestHTTPInvoker_Non2xxIsDispatchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.Client(), "wrong")
	_, err := inv.Invoke(context.Background(),
		protocol.Agent{Name: "ag4", Endpoint: srv.URL},
		protocol.Mission{ID: "m-8"})

	var derr *protocol.DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "m-8", derr.MissionID)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTPInvoker_MissingEndpoint(t *testing.T) {
	inv := NewHTTPInvoker(nil, "t")
	_, err := inv.Invoke(context.Background(), protocol.Agent{Name: "ag4"}, protocol.Mission{ID: "m-9"})
	var derr *protocol.DispatchError
	assert.ErrorAs(t, err, &derr)
}
