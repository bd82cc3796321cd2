package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayfarer-backend/internal/domain"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/response"
)

func setupServer(t *testing.T, register func(r *gin.Engine)) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer secret" {
			response.Unauthorized(c, "Missing authorization header")
			c.Abort()
			return
		}
		c.Next()
	})
	register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "secret")
}

func TestGetMessages_DecodesPage(t *testing.T) {
	peer := uuid.New()
	var gotLimit, gotCursor string
	client := setupServer(t, func(r *gin.Engine) {
		r.GET("/v1/conversations/:peer_id/messages", func(c *gin.Context) {
			assert.Equal(t, peer.String(), c.Param("peer_id"))
			gotLimit, gotCursor = c.Query("limit"), c.Query("cursor")
			response.Success(c, http.StatusOK, &domain.MessagePage{
				Messages:   []*domain.Message{{ID: uuid.New(), Body: "hello"}},
				NextCursor: "next",
				HasMore:    true,
			})
		})
	})

	page, err := client.GetMessages(context.Background(), peer, 25, "abc")
	require.NoError(t, err)
	assert.Equal(t, "25", gotLimit)
	assert.Equal(t, "abc", gotCursor)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hello", page.Messages[0].Body)
	assert.Equal(t, "next", page.NextCursor)
	assert.True(t, page.HasMore)
}

func TestListConversations(t *testing.T) {
	peer := uuid.New()
	client := setupServer(t, func(r *gin.Engine) {
		r.GET("/v1/conversations", func(c *gin.Context) {
			assert.Equal(t, "10", c.Query("offset"))
			response.Success(c, http.StatusOK, gin.H{
				"conversations": []*domain.Conversation{{PeerID: peer, UnreadCount: 2}},
				"limit":         5,
				"offset":        10,
			})
		})
	})

	convs, err := client.ListConversations(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, peer, convs[0].PeerID)
	assert.Equal(t, 2, convs[0].UnreadCount)
}

func TestErrorEnvelopeBecomesAppError(t *testing.T) {
	client := setupServer(t, func(r *gin.Engine) {
		r.POST("/v1/messages", func(c *gin.Context) {
			response.FromError(c, apperrors.ValidationError("message is empty"))
		})
	})

	_, err := client.SendMessage(context.Background(), uuid.New(), domain.Content{Type: domain.MessageText})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	appErr := apperrors.GetAppError(err)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	assert.Equal(t, "message is empty", appErr.Message)
}

func TestUnauthorized(t *testing.T) {
	client := setupServer(t, func(r *gin.Engine) {
		r.GET("/v1/presence/online", func(c *gin.Context) {
			t.Error("handler must not run")
		})
	})
	client.Token = "wrong"

	_, err := client.Online(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestUnregisterPushToken_SendsBody(t *testing.T) {
	client := setupServer(t, func(r *gin.Engine) {
		r.DELETE("/v1/push/tokens", func(c *gin.Context) {
			var body struct {
				Token string `json:"token"`
			}
			require.NoError(t, c.ShouldBindJSON(&body))
			assert.Equal(t, "device-1", body.Token)
			response.Success(c, http.StatusOK, gin.H{"message": "ok"})
		})
	})

	assert.NoError(t, client.UnregisterPushToken(context.Background(), "device-1"))
}

func TestServerUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "secret")
	err := client.MarkRead(context.Background(), uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServiceUnavail))
}
