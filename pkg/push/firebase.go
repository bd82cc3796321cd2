package push

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"wayfarer-backend/pkg/logger"
)

// FirebaseProvider sends through FCM to Android, web and bridged iOS devices
type FirebaseProvider struct {
	client    *messaging.Client
	projectID string
}

// NewFirebaseProvider loads a service account file and opens a messaging client.
// An empty projectID is read from the credentials.
func NewFirebaseProvider(ctx context.Context, projectID, credentialsPath string) (*FirebaseProvider, error) {
	credentials, err := os.ReadFile(filepath.Clean(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read firebase credentials: %w", err)
	}

	if projectID == "" {
		var creds struct {
			ProjectID string `json:"project_id"`
		}
		if err := json.Unmarshal(credentials, &creds); err != nil {
			return nil, fmt.Errorf("failed to parse firebase credentials: %w", err)
		}
		projectID = creds.ProjectID
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentialsJSON(credentials))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get firebase messaging client: %w", err)
	}

	logger.Info("Firebase messaging initialized", zap.String("project_id", projectID))
	return &FirebaseProvider{client: client, projectID: projectID}, nil
}

func (f *FirebaseProvider) Name() string { return "firebase" }

func (f *FirebaseProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	if len(tokens) == 0 {
		return &SendResult{}, nil
	}

	messages := make([]*messaging.Message, len(tokens))
	for i, token := range tokens {
		messages[i] = buildMessage(notification, token)
	}

	batch, err := f.client.SendEach(ctx, messages)
	if err != nil {
		return &SendResult{FailureCount: len(tokens)}, fmt.Errorf("firebase send failed: %w", err)
	}

	result := &SendResult{}
	for i, resp := range batch.Responses {
		if resp.Success {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		if resp.Error != nil && (messaging.IsUnregistered(resp.Error) || messaging.IsInvalidArgument(resp.Error)) {
			result.InvalidTokens = append(result.InvalidTokens, tokens[i])
		}
	}
	return result, nil
}

func buildMessage(n *Notification, token string) *messaging.Message {
	data := make(map[string]string, len(n.Data)+3)
	for k, v := range n.Data {
		data[k] = v
	}
	data["title"] = n.Title
	data["body"] = n.Body
	data["timestamp"] = strconv.FormatInt(time.Now().Unix(), 10)

	android := &messaging.AndroidConfig{
		Data: data,
		Notification: &messaging.AndroidNotification{
			Title: n.Title,
			Body:  n.Body,
			Sound: n.Sound,
		},
	}
	if n.Priority == "high" {
		android.Priority = "high"
	} else {
		android.Priority = "normal"
	}

	return &messaging.Message{
		Token:   token,
		Data:    data,
		Android: android,
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert:    &messaging.ApsAlert{Title: n.Title, Body: n.Body},
					Sound:    n.Sound,
					Category: n.Category,
				},
			},
		},
		Webpush: &messaging.WebpushConfig{
			Data: data,
			Notification: &messaging.WebpushNotification{
				Title: n.Title,
				Body:  n.Body,
				Icon:  "/icon-192x192.png",
			},
		},
	}
}
