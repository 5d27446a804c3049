package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

type EmailService struct {
	client    *resend.Client
	fromEmail string
	appURL    string
	appName   string
	isDev     bool
}

func NewEmailService(apiKey, fromEmail, appURL, appName string, isDev bool) *EmailService {
	var client *resend.Client
	if apiKey != "" && !isDev {
		client = resend.NewClient(apiKey)
	}

	return &EmailService{
		client:    client,
		fromEmail: fromEmail,
		appURL:    appURL,
		appName:   appName,
		isDev:     isDev,
	}
}

func (s *EmailService) SendPurchaseReceipt(email, name string, credits int) error {
	subject, body := purchaseReceiptTemplate(name, credits, s.appURL, s.appName)

	if s.isDev {
		slog.Info("email sent (dev mode)", "type", "purchase_receipt", "to", email, "subject", subject)
		return nil
	}

	if s.client == nil {
		return fmt.Errorf("email service not configured (missing RESEND_API_KEY)")
	}

	params := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{email},
		Subject: subject,
		Text:    body,
	}

	_, err := s.client.Emails.SendWithContext(context.Background(), params)
	if err == nil {
		slog.Info("email sent", "type", "purchase_receipt", "to", email)
	}
	return err
}

func purchaseReceiptTemplate(name string, credits int, appURL, appName string) (string, string) {
	subject := fmt.Sprintf("Your %s credits are ready", appName)
	body := fmt.Sprintf(`Hi %s,

Thanks for your purchase! %d credits have been added to your account.

Start creating: %s

Best,
The %s Team`, name, credits, appURL, appName)

	return subject, body
}
