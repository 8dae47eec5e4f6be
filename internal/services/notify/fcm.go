package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Pusher delivers one notification to one device token
type Pusher interface {
	Push(ctx context.Context, token, title, body string, data map[string]string) error
}

// FCMPusher handles Firebase Cloud Messaging
type FCMPusher struct {
	client *messaging.Client
}

// NewFCMPusher creates a pusher from a service account file
func NewFCMPusher(ctx context.Context, credentialsFile string) (*FCMPusher, error) {
	return newFCMPusher(ctx, option.WithCredentialsFile(credentialsFile))
}

// NewFCMPusherFromBase64 creates a pusher from base64-encoded service account JSON.
// Useful on platforms where a credentials file can't be mounted.
func NewFCMPusherFromBase64(ctx context.Context, credentialsBase64 string) (*FCMPusher, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMPusher(ctx, option.WithCredentialsJSON(credentialsJSON))
}

func newFCMPusher(ctx context.Context, opt option.ClientOption) (*FCMPusher, error) {
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMPusher{client: client}, nil
}

func (p *FCMPusher) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}

	response, err := p.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending FCM message: %w", err)
	}

	log.Printf("✅ [NOTIFY] FCM notification sent: %s", response)
	return nil
}

// LogPusher stands in for FCM when no credentials are configured
type LogPusher struct{}

func (LogPusher) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	log.Printf("📨 [NOTIFY] (no FCM) %s: %s", title, body)
	return nil
}
