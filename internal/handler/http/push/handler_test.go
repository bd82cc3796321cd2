package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"wayfarer-backend/pkg/push"
)

type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) RegisterToken(ctx context.Context, token *push.Token) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockTokenService) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

func serve(h *Handler, userID uuid.UUID, method string, body any) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	})
	r.POST("/v1/push/tokens", h.RegisterToken)
	r.DELETE("/v1/push/tokens", h.UnregisterToken)

	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, "/v1/push/tokens", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterToken(t *testing.T) {
	svc := new(MockTokenService)
	user := uuid.New()
	svc.On("RegisterToken", mock.Anything, &push.Token{UserID: user, Token: "fcm-1", Platform: "android"}).Return(nil)

	w := serve(NewHandler(svc), user, http.MethodPost, gin.H{"token": "fcm-1", "platform": "android"})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestRegisterToken_Validation(t *testing.T) {
	tests := []struct {
		name string
		body gin.H
	}{
		{"missing token", gin.H{"platform": "ios"}},
		{"unknown platform", gin.H{"token": "t", "platform": "symbian"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockTokenService)
			w := serve(NewHandler(svc), uuid.New(), http.MethodPost, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			svc.AssertNotCalled(t, "RegisterToken", mock.Anything, mock.Anything)
		})
	}
}

func TestRegisterToken_StoreFailure(t *testing.T) {
	svc := new(MockTokenService)
	svc.On("RegisterToken", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	w := serve(NewHandler(svc), uuid.New(), http.MethodPost, gin.H{"token": "t", "platform": "web"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "redis down")
}

func TestUnregisterToken(t *testing.T) {
	user := uuid.New()

	t.Run("removes own token", func(t *testing.T) {
		svc := new(MockTokenService)
		svc.On("UnregisterToken", mock.Anything, user, "t").Return(nil)
		w := serve(NewHandler(svc), user, http.MethodDelete, gin.H{"token": "t"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		svc := new(MockTokenService)
		svc.On("UnregisterToken", mock.Anything, user, "t").Return(push.ErrTokenNotFound)
		w := serve(NewHandler(svc), user, http.MethodDelete, gin.H{"token": "t"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
