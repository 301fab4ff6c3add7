package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAlertService emails operators when a lockout engages. Delivery is best
// effort and fire-and-forget; a lockout never waits on SES.
type SESAlertService struct {
	sesClient       *ses.Client
	fromAddress     string
	operatorAddress string
	logger          *slog.Logger
}

func NewSESAlertService(region, fromAddress, operatorAddress string, logger *slog.Logger) (*SESAlertService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESAlertService{
		sesClient:       ses.NewFromConfig(cfg),
		fromAddress:     fromAddress,
		operatorAddress: operatorAddress,
		logger:          logger,
	}, nil
}

// LockoutEngaged implements the Alerter interface.
func (s *SESAlertService) LockoutEngaged(ctx context.Context, scope, identifier string, until time.Time) {
	go s.send(scope, identifier, until)
}

func (s *SESAlertService) send(scope, identifier string, until time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	subject := fmt.Sprintf("[gatehouse] %s lockout engaged", scope)
	body := fmt.Sprintf(
		"A login lockout engaged.\n\nScope: %s\nIdentifier: %s\nLocked until: %s\n\nSee the audit log for the attempt trail.",
		scope, identifier, until.UTC().Format(time.RFC3339),
	)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{s.operatorAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		s.logger.Error("failed to send lockout alert", slog.Any("error", err))
		return
	}

	s.logger.Info("lockout alert sent", slog.String("scope", scope))
}
