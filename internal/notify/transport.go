package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"postal-service/internal/config"
	"postal-service/internal/model"
	"postal-service/internal/util"
)

// DeliveryTransport pushes a one-time code to a receiver over an external
// channel. Failures are reported but never block the handshake: the code is
// also shown on the subject's own session.
type DeliveryTransport interface {
	Deliver(ctx context.Context, contact model.ReceiverContact, code string) error
}

// -------------------- EMAIL --------------------

// EmailTransport sends codes over SMTP.
type EmailTransport struct {
	config *config.DeliveryConfig
}

func NewEmailTransport(cfg *config.Config) *EmailTransport {
	return &EmailTransport{config: &cfg.Delivery}
}

func (t *EmailTransport) Deliver(ctx context.Context, contact model.ReceiverContact, code string) error {
	if contact.Email == "" {
		return nil
	}
	if t.config.SMTPHost == "" {
		return fmt.Errorf("smtp host not configured")
	}

	addr := fmt.Sprintf("%s:%d", t.config.SMTPHost, t.config.SMTPPort)
	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: Your parcel delivery code\r\n\r\n"+
			"Your one-time delivery code is %s. It expires shortly.\r\n",
		t.config.FromAddress, contact.Email, code))

	var auth smtp.Auth
	if t.config.SMTPUser != "" {
		auth = smtp.PlainAuth("", t.config.SMTPUser, t.config.SMTPPassword, t.config.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, t.config.FromAddress, []string{contact.Email}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	util.Info("Delivery code emailed", zap.String("email", contact.Email))
	return nil
}

// -------------------- SMS --------------------

// SMSTransport posts codes to an HTTP SMS gateway.
type SMSTransport struct {
	config *config.DeliveryConfig
	client *http.Client
}

func NewSMSTransport(cfg *config.Config) *SMSTransport {
	return &SMSTransport{
		config: &cfg.Delivery,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *SMSTransport) Deliver(ctx context.Context, contact model.ReceiverContact, code string) error {
	if contact.Mobile == "" {
		return nil
	}
	if t.config.SMSGatewayURL == "" {
		return fmt.Errorf("sms gateway not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"to":      contact.Mobile,
		"message": fmt.Sprintf("Your one-time delivery code is %s", code),
	})
	if err != nil {
		return fmt.Errorf("failed to encode sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.SMSGatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.config.SMSAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.SMSAPIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned %s", resp.Status)
	}

	util.Info("Delivery code sent by SMS", zap.String("mobile", contact.Mobile))
	return nil
}

// -------------------- COMPOSITES --------------------

// MultiTransport fans a code out to every channel in parallel. Individual
// channel failures are logged, not returned: external delivery is best-effort.
type MultiTransport struct {
	transports []DeliveryTransport
}

func NewMultiTransport(transports ...DeliveryTransport) *MultiTransport {
	return &MultiTransport{transports: transports}
}

func (t *MultiTransport) Deliver(ctx context.Context, contact model.ReceiverContact, code string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, transport := range t.transports {
		transport := transport
		g.Go(func() error {
			if err := transport.Deliver(gctx, contact, code); err != nil {
				util.Warn("Delivery channel failed", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// LogTransport is the development fallback: the code goes to the log only.
type LogTransport struct{}

func NewLogTransport() *LogTransport {
	return &LogTransport{}
}

func (t *LogTransport) Deliver(ctx context.Context, contact model.ReceiverContact, code string) error {
	util.Info("Delivery code issued (log transport)",
		zap.String("mobile", contact.Mobile),
		zap.String("email", contact.Email),
		zap.String("code", code),
	)
	return nil
}
