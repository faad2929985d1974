package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/heartlink/backend/internal/models"
)

// Mailer is the outbound-delivery collaborator. Real delivery lives outside
// this service.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes mail to the log instead of sending it. Default when no
// delivery backend is configured.
type LogMailer struct {
	Log *slog.Logger
}

func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("outbound email", "to", to, "subject", subject, "body", body)
	return nil
}

// OTPEmailArgs delivers a verification code.
type OTPEmailArgs struct {
	Email   string `json:"email"`
	Code    string `json:"code"`
	OTPType string `json:"otp_type"`
}

func (OTPEmailArgs) Kind() string { return "otp_email" }

type OTPEmailWorker struct {
	river.WorkerDefaults[OTPEmailArgs]
	mailer Mailer
}

func NewOTPEmailWorker(mailer Mailer) *OTPEmailWorker {
	return &OTPEmailWorker{mailer: mailer}
}

func (w *OTPEmailWorker) Work(ctx context.Context, job *river.Job[OTPEmailArgs]) error {
	args := job.Args
	subject := "Your HeartLink verification code"
	body := fmt.Sprintf("Your %s verification code is %s. It expires shortly.", args.OTPType, args.Code)
	return w.mailer.Send(ctx, args.Email, subject, body)
}

// TopUpResolvedArgs informs a user their top-up request reached a terminal
// state. Enqueued in the same transaction as the resolution itself.
type TopUpResolvedArgs struct {
	RequestID uuid.UUID `json:"request_id"`
	UserID    uuid.UUID `json:"user_id"`
	Status    string    `json:"status"`
	Credits   int       `json:"credits"`
	Reason    string    `json:"reason,omitempty"`
}

func (TopUpResolvedArgs) Kind() string { return "topup_resolved_email" }

// UserEmails resolves a user id to a deliverable address.
type UserEmails interface {
	EmailByID(ctx context.Context, id uuid.UUID) (string, error)
}

type TopUpEmailWorker struct {
	river.WorkerDefaults[TopUpResolvedArgs]
	mailer Mailer
	users  UserEmails
}

func NewTopUpEmailWorker(mailer Mailer, users UserEmails) *TopUpEmailWorker {
	return &TopUpEmailWorker{mailer: mailer, users: users}
}

func (w *TopUpEmailWorker) Work(ctx context.Context, job *river.Job[TopUpResolvedArgs]) error {
	args := job.Args
	to, err := w.users.EmailByID(ctx, args.UserID)
	if err != nil {
		return fmt.Errorf("resolve user email: %w", err)
	}
	var subject, body string
	switch args.Status {
	case models.TopUpCompleted:
		subject = "Your top-up is complete"
		body = fmt.Sprintf("%d credits were added to your funding wallet.", args.Credits)
	case models.TopUpRejected:
		subject = "Your top-up was declined"
		body = "Your top-up request was declined."
		if args.Reason != "" {
			body = fmt.Sprintf("Your top-up request was declined: %s", args.Reason)
		}
	default:
		return nil
	}
	return w.mailer.Send(ctx, to, subject, body)
}
