// Package api is the client side of the relay's REST surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"wayfarer-backend/internal/domain"
	apperrors "wayfarer-backend/pkg/errors"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// envelope mirrors pkg/response.Response with a deferred payload.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do sends one request and decodes the envelope's data into out (if non-nil).
// A failed reply becomes an AppError carrying the server's code.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apperrors.ServiceUnavailableError(fmt.Sprintf("%s %s: %v", method, path, err))
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: unexpected response (status %d): %w", method, path, resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error == nil {
			return apperrors.NewWithStatus(apperrors.ErrCodeInternal, resp.Status, resp.StatusCode)
		}
		return apperrors.NewWithStatus(apperrors.ErrorCode(env.Error.Code), env.Error.Message, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode data: %w", method, path, err)
	}
	return nil
}

func (c *Client) ListConversations(ctx context.Context, limit, offset int) ([]*domain.Conversation, error) {
	var out struct {
		Conversations []*domain.Conversation `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/conversations", url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}, nil, &out)
	return out.Conversations, err
}

func (c *Client) GetMessages(ctx context.Context, peerID uuid.UUID, limit int, cursor string) (*domain.MessagePage, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	var page domain.MessagePage
	if err := c.do(ctx, http.MethodGet, "/v1/conversations/"+peerID.String()+"/messages", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) MarkRead(ctx context.Context, peerID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/v1/conversations/"+peerID.String()+"/read", nil, nil, nil)
}

// SendMessage posts a message over HTTP, for when the websocket is down.
func (c *Client) SendMessage(ctx context.Context, peerID uuid.UUID, content domain.Content) (*domain.Message, error) {
	var msg domain.Message
	err := c.do(ctx, http.MethodPost, "/v1/messages", nil, map[string]any{
		"recipient_id": peerID.String(),
		"type":         content.Type,
		"body":         content.Body,
		"attachment":   content.Attachment,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) Online(ctx context.Context) ([]uuid.UUID, error) {
	var out struct {
		Online []uuid.UUID `json:"online"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/presence/online", nil, nil, &out)
	return out.Online, err
}

func (c *Client) CallHistory(ctx context.Context, limit, offset int) ([]*domain.CallRecord, error) {
	var out struct {
		Calls []*domain.CallRecord `json:"calls"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/calls/history", url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}, nil, &out)
	return out.Calls, err
}

func (c *Client) RegisterPushToken(ctx context.Context, token, platform string) error {
	return c.do(ctx, http.MethodPost, "/v1/push/tokens", nil, domain.PushToken{Token: token, Platform: platform}, nil)
}

func (c *Client) UnregisterPushToken(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/v1/push/tokens", nil, map[string]string{"token": token}, nil)
}
