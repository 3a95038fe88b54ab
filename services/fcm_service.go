package services

import (
	"context"
	"fmt"
	"regexp"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/phonginreallife/inres-oncall/internal/observability"
)

// DefaultNotificationSound is played by the mobile app for incident pushes.
const DefaultNotificationSound = "alert.caf"

// NewFirebaseApp initializes the Admin SDK. An empty credentials file falls back
// to application default credentials.
func NewFirebaseApp(ctx context.Context, credentialsFile, projectID string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	return app, nil
}

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMService pushes incident alerts to the FCM topic of the affected team.
// The mobile app subscribes on-call members to "oncall-<team>".
type FCMService struct {
	client messageSender
	logger *zap.Logger
}

var _ Pusher = (*FCMService)(nil)

func NewFCMService(ctx context.Context, app *firebase.App, logger *zap.Logger) (*FCMService, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}
	return &FCMService{client: client, logger: observability.OrNop(logger)}, nil
}

var topicUnsafe = regexp.MustCompile(`[^a-zA-Z0-9\-_.~%]`)

// TeamTopic returns the FCM topic for a team.
func TeamTopic(team string) string {
	return "oncall-" + topicUnsafe.ReplaceAllString(team, "_")
}

func (s *FCMService) PushToTeam(ctx context.Context, team string, alert PushAlert) error {
	msg := buildTeamPush(team, alert)
	id, err := s.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send push to %s: %w", msg.Topic, err)
	}
	s.logger.Info("push sent", zap.String("topic", msg.Topic), zap.String("message_id", id), zap.String("kind", alert.Kind))
	return nil
}

func buildTeamPush(team string, alert PushAlert) *messaging.Message {
	data := map[string]string{
		"incident_id": alert.IncidentID,
		"team":        team,
		"type":        alert.Kind,
	}
	return &messaging.Message{
		Topic: TeamTopic(team),
		Notification: &messaging.Notification{
			Title: alert.Title,
			Body:  alert.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Icon:         "ic_notification",
				Color:        "#FF0000",
				Sound:        "default",
				ChannelID:    "high_importance_channel",
				Priority:     messaging.PriorityHigh,
				DefaultSound: true,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: alert.Title,
						Body:  alert.Body,
					},
					Sound: DefaultNotificationSound,
					CustomData: map[string]interface{}{
						"incident_id": alert.IncidentID,
						"type":        alert.Kind,
					},
				},
			},
		},
	}
}
