package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tinywideclouds/go-push-bridge/internal/api"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

type MockEventHandler struct {
	mock.Mock
}

func (m *MockEventHandler) OnTokenRefresh(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockEventHandler) OnMessage(ctx context.Context, payload bridge.MessagePayload) {
	m.Called(ctx, payload)
}

func TestRefreshToken(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		h := new(MockEventHandler)
		a := api.NewEventAPI(h, newTestLogger())
		h.On("OnTokenRefresh", mock.Anything, "fcm-token-abc").Return(nil)

		body, _ := json.Marshal(map[string]string{"token": "fcm-token-abc"})
		w := httptest.NewRecorder()
		a.RefreshToken(w, httptest.NewRequest(http.MethodPost, "/api/v1/events/token", bytes.NewReader(body)))

		assert.Equal(t, http.StatusNoContent, w.Code)
		h.AssertExpectations(t)
	})

	t.Run("Missing token", func(t *testing.T) {
		h := new(MockEventHandler)
		a := api.NewEventAPI(h, newTestLogger())
		h.On("OnTokenRefresh", mock.Anything, "").Return(bridge.ErrEmptyToken)

		w := httptest.NewRecorder()
		a.RefreshToken(w, httptest.NewRequest(http.MethodPost, "/api/v1/events/token", bytes.NewReader([]byte(`{}`))))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Storage failure", func(t *testing.T) {
		h := new(MockEventHandler)
		a := api.NewEventAPI(h, newTestLogger())
		h.On("OnTokenRefresh", mock.Anything, "t").Return(&bridge.StorageError{Op: "put", Err: errors.New("disk full")})

		w := httptest.NewRecorder()
		a.RefreshToken(w, httptest.NewRequest(http.MethodPost, "/api/v1/events/token", bytes.NewReader([]byte(`{"token":"t"}`))))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		h := new(MockEventHandler)
		a := api.NewEventAPI(h, newTestLogger())

		w := httptest.NewRecorder()
		a.RefreshToken(w, httptest.NewRequest(http.MethodPost, "/api/v1/events/token", bytes.NewReader([]byte("nope"))))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		h.AssertNotCalled(t, "OnTokenRefresh", mock.Anything, mock.Anything)
	})
}

func TestDeliverMessage(t *testing.T) {
	h := new(MockEventHandler)
	a := api.NewEventAPI(h, newTestLogger())
	expected := bridge.MessagePayload{
		Notification: &bridge.StructuredNotification{Title: "A", Body: "B"},
		Data:         map[string]string{"k": "v"},
	}
	h.On("OnMessage", mock.Anything, expected).Once()

	body, _ := json.Marshal(expected)
	w := httptest.NewRecorder()
	a.DeliverMessage(w, httptest.NewRequest(http.MethodPost, "/api/v1/events/message", bytes.NewReader(body)))

	assert.Equal(t, http.StatusAccepted, w.Code)
	h.AssertExpectations(t)
}
