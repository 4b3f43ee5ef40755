package notify

import (
	"context"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// PushSender is the narrow provider boundary; tests and credential-less local
// runs inject their own.
type PushSender interface {
	Send(ctx context.Context, msg *messaging.Message) error
}

// PermanentSendError reports whether the provider declared the target token
// permanently invalid (unregistered installation, malformed token). Such
// tokens are deleted from the registry; anything else is treated as transient.
func PermanentSendError(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err)
}

// NewFCMSender builds the production sender from a service-account
// credentials file.
func NewFCMSender(ctx context.Context, credentialsFile string) (PushSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, err
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, err
	}
	return &fcmSender{client: client}, nil
}

type fcmSender struct {
	client *messaging.Client
}

func (s *fcmSender) Send(ctx context.Context, msg *messaging.Message) error {
	_, err := s.client.Send(ctx, msg)
	return err
}

// NewDisabledSender logs instead of sending; used outside production when no
// FCM credentials are configured.
func NewDisabledSender(log *slog.Logger) PushSender {
	if log == nil {
		log = slog.Default()
	}
	return disabledSender{log: log}
}

type disabledSender struct {
	log *slog.Logger
}

func (s disabledSender) Send(ctx context.Context, msg *messaging.Message) error {
	s.log.Debug("push disabled, dropping message", "token", msg.Token)
	return nil
}
