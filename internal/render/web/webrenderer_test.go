package web_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-bridge/internal/render"
	"github.com/tinywideclouds/go-push-bridge/internal/render/web"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// newSubscription builds a browser-like subscription with real keys so the
// payload encryption succeeds.
func newSubscription(t *testing.T, endpoint string) notification.WebPushSubscription {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	return notification.WebPushSubscription{
		Endpoint: endpoint,
		Keys: struct {
			P256dh []byte `json:"p256dh"`
			Auth   []byte `json:"auth"`
		}{P256dh: priv.PublicKey().Bytes(), Auth: auth},
	}
}

func TestRender_Lifecycle(t *testing.T) {
	var lastTopic, lastUrgency string
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		lastTopic = r.Header.Get("Topic")
		lastUrgency = r.Header.Get("Urgency")

		switch r.URL.Path {
		case "/success":
			w.WriteHeader(http.StatusCreated)
		case "/expired":
			w.WriteHeader(http.StatusGone)
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	keys := web.VapidKeys{
		PrivateKey:      privateKey,
		PublicKey:       publicKey,
		SubscriberEmail: "test-runner@tinywideclouds.com",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	profile := render.DefaultProfile("Acme")
	ctx := context.Background()
	req := bridge.NotificationRequest{Title: "Test", Body: "Body"}

	t.Run("Delivered with slot topic and high urgency", func(t *testing.T) {
		r := web.NewRenderer(keys, newSubscription(t, mockServer.URL+"/success"), profile, mockServer.Client(), logger)
		require.NoError(t, r.Render(ctx, req))
		assert.Equal(t, render.DefaultSlotID, lastTopic)
		assert.Equal(t, "high", lastUrgency)
	})

	t.Run("Expired subscription", func(t *testing.T) {
		r := web.NewRenderer(keys, newSubscription(t, mockServer.URL+"/expired"), profile, mockServer.Client(), logger)
		assert.ErrorIs(t, r.Render(ctx, req), web.ErrSubscriptionGone)
	})

	t.Run("Push service error", func(t *testing.T) {
		r := web.NewRenderer(keys, newSubscription(t, mockServer.URL+"/error"), profile, mockServer.Client(), logger)
		err := r.Render(ctx, req)
		require.Error(t, err)
		assert.NotErrorIs(t, err, web.ErrSubscriptionGone)
	})

	t.Run("Missing endpoint fails channel setup", func(t *testing.T) {
		r := web.NewRenderer(keys, notification.WebPushSubscription{}, profile, nil, logger)
		assert.Error(t, r.Render(ctx, req))
	})
}
