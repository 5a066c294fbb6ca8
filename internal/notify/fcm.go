package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/talkbridge/chat-server/internal/config"
)

const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// FCMDispatcher sends notifications through the Firebase Cloud
// Messaging HTTP v1 API, authenticating with a service-account token
// source.
type FCMDispatcher struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewFCMDispatcher reads the service-account credentials file and
// builds an authenticated HTTP client.
func NewFCMDispatcher(cfg config.PushConfig) (*FCMDispatcher, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read FCM credentials: %w", err)
	}

	creds, err := google.CredentialsFromJSON(context.Background(), data, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FCM credentials: %w", err)
	}

	return &FCMDispatcher{
		endpoint: fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", cfg.ProjectID),
		client:   oauth2.NewClient(context.Background(), creds.TokenSource),
		timeout:  cfg.Timeout,
	}, nil
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string          `json:"token"`
	Notification fcmNotification `json:"notification"`
	Android      fcmAndroid      `json:"android"`
	APNS         fcmAPNS         `json:"apns"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Priority string `json:"priority"`
}

type fcmAPNS struct {
	Headers map[string]string `json:"headers"`
}

func (d *FCMDispatcher) Send(ctx context.Context, deviceToken, title, body string) error {
	payload := fcmRequest{
		Message: fcmMessage{
			Token:        deviceToken,
			Notification: fcmNotification{Title: title, Body: body},
			Android:      fcmAndroid{Priority: "high"},
			APNS:         fcmAPNS{Headers: map[string]string{"apns-priority": "10"}},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; UTF-8")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("fcm returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
