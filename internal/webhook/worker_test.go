package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(url string) *WebhookWorker {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	cfg := &config.Config{
		WebhookURL:        url,
		WebhookSecret:     "s3cret",
		WebhookTimeout:    time.Second,
		WebhookMaxRetries: 3,
		WebhookBaseDelay:  time.Millisecond,
	}
	return NewWebhookWorker(nil, log, cfg)
}

func testEnvelope(t *testing.T) (notify.Envelope, string) {
	env, err := notify.Event{
		Name:    notify.EventAdminAllDeclined,
		Target:  notify.Broadcast(),
		Payload: map[string]string{"incident_id": "42"},
	}.Envelope()
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return env, string(raw)
}

func TestGenerateHMACSHA256(t *testing.T) {
	// echo -n 'payload' | openssl dgst -sha256 -hmac 'key'
	assert.Equal(t,
		"5d98b45c90a207fa998ce639fea6f02ecc8cc3f36fef81d694fb856b4d0a28ca",
		generateHMACSHA256("payload", "key"),
	)
	assert.NotEqual(t, generateHMACSHA256("payload", "key"), generateHMACSHA256("payload", "other"))
}

func TestProcessWebhookEvent_SignsPayload(t *testing.T) {
	var gotSig, gotEvent, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotSig = r.Header.Get(SignatureHeader)
		gotEvent = r.Header.Get(EventHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := newTestWorker(srv.URL)
	env, raw := testEnvelope(t)

	w.processWebhookEvent(context.Background(), env, raw)

	assert.Equal(t, raw, gotBody)
	assert.Equal(t, generateHMACSHA256(raw, "s3cret"), gotSig)
	assert.Equal(t, notify.EventAdminAllDeclined, gotEvent)
}

func TestProcessWebhookEvent_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestWorker(srv.URL)
	env, raw := testEnvelope(t)

	w.processWebhookEvent(context.Background(), env, raw)

	assert.Equal(t, int32(3), calls.Load())
}

func TestProcessWebhookEvent_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := newTestWorker(srv.URL)
	env, raw := testEnvelope(t)

	w.processWebhookEvent(context.Background(), env, raw)

	assert.Equal(t, int32(3), calls.Load())
}

func TestProcessWebhookEvent_NoURL(t *testing.T) {
	w := newTestWorker("")
	env, raw := testEnvelope(t)

	assert.NotPanics(t, func() {
		w.processWebhookEvent(context.Background(), env, raw)
	})
}

func TestRedisWebhookPublisher_Accepts(t *testing.T) {
	all := NewRedisWebhookPublisher(nil, nil)
	assert.True(t, all.Accepts(notify.EventIncidentCreated))

	some := NewRedisWebhookPublisher(nil, []string{notify.EventAdminAllDeclined})
	assert.True(t, some.Accepts(notify.EventAdminAllDeclined))
	assert.False(t, some.Accepts(notify.EventIncidentCreated))

	// отфильтрованное событие не трогает Redis
	require.NoError(t, some.Publish(context.Background(), notify.Event{Name: notify.EventIncidentCreated}))
}
