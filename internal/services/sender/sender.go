// Package sender отправляет письма владельцам аккаунтов по событиям лицензий,
// полученным из очереди.
package sender

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/smtp"
	"github.com/magabrotheeeer/hwid-licensing/internal/models"
)

const dateLayout = "02.01.2006 15:04 MST"

// Service формирует и отправляет письма.
type Service struct {
	transport smtp.TransportInterface
	log       *slog.Logger
}

// New создаёт Service.
func New(log *slog.Logger, transport smtp.TransportInterface) *Service {
	return &Service{
		transport: transport,
		log:       log,
	}
}

// HandleEvent разбирает событие и отправляет письмо, если для его типа
// предусмотрено уведомление. Остальные события пропускаются.
func (s *Service) HandleEvent(body []byte) error {
	const op = "sender.HandleEvent"
	var event models.LicenseEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if event.Email == "" {
		s.log.Debug("event without recipient skipped", slog.String("type", string(event.Type)))
		return nil
	}

	subject, text, ok := compose(event)
	if !ok {
		return nil
	}
	return s.sendEmail([]string{event.Email}, subject, text)
}

func compose(event models.LicenseEvent) (subject, text string, ok bool) {
	switch event.Type {
	case models.EventSubscriptionExpiring:
		if event.ExpirationDate == nil {
			return "", "", false
		}
		return "Подписка скоро закончится",
			fmt.Sprintf("Здравствуйте!\n\nВаша подписка действует до %s.\n\nПожалуйста, продлите её заранее, чтобы не потерять доступ.",
				event.ExpirationDate.UTC().Format(dateLayout)),
			true
	case models.EventHwidSetup:
		return "Устройство привязано",
			fmt.Sprintf("Здравствуйте!\n\nК вашему аккаунту привязано устройство %s (%s).",
				shortFingerprint(event.Fingerprint), event.At.UTC().Format(dateLayout)),
			true
	case models.EventHwidChanged:
		return "HWID изменён",
			fmt.Sprintf("Здравствуйте!\n\nПривязка вашего аккаунта перенесена на устройство %s (%s).\n\nЕсли это были не вы, обратитесь в поддержку.",
				shortFingerprint(event.Fingerprint), event.At.UTC().Format(dateLayout)),
			true
	case models.EventAccountCreated:
		return "Аккаунт создан",
			"Здравствуйте!\n\nАдминистратор создал для вас аккаунт. Войдите, используя эту почту и выданный пароль.",
			true
	}
	return "", "", false
}

func shortFingerprint(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12] + "…"
}

func (s *Service) sendEmail(to []string, subject, bodyText string) error {
	msg := strings.Join([]string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"Date: " + time.Now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer client.Close()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", s.transport.GetSMTPUser()), sl.Err(err))
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return err
	}

	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}

	if err = wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return err
	}

	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", slog.Any("to", to))
	return nil
}
