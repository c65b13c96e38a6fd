package smtp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"

	"github.com/magabrotheeeer/hwid-licensing/internal/config"
	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
)

const dialTimeout = 10 * time.Second

// Transport реализует TransportInterface поверх net/smtp.
type Transport struct {
	cfg config.SMTP
	log *slog.Logger
}

// NewTransport создаёт Transport.
func NewTransport(cfg config.SMTP, log *slog.Logger) *Transport {
	return &Transport{cfg: cfg, log: log}
}

// Connect открывает соединение, включает STARTTLS и проходит аутентификацию.
func (t *Transport) Connect() (Client, error) {
	const op = "smtp.Connect"
	addr := net.JoinHostPort(t.cfg.Host, t.cfg.Port)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", op, err)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		t.closeQuietly(conn.Close)
		return nil, fmt.Errorf("%s: new client: %w", op, err)
	}

	if ok, _ := client.Extension("STARTTLS"); !ok {
		t.closeQuietly(client.Close)
		return nil, fmt.Errorf("%s: server does not support STARTTLS", op)
	}
	if err = client.StartTLS(&tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
		t.closeQuietly(client.Close)
		return nil, fmt.Errorf("%s: starttls: %w", op, err)
	}

	if err = client.Auth(smtp.PlainAuth("", t.cfg.User, t.cfg.Password, t.cfg.Host)); err != nil {
		t.closeQuietly(client.Close)
		return nil, fmt.Errorf("%s: auth: %w", op, err)
	}
	return client, nil
}

// GetSMTPUser возвращает адрес отправителя.
func (t *Transport) GetSMTPUser() string {
	return t.cfg.User
}

func (t *Transport) closeQuietly(closeFn func() error) {
	if err := closeFn(); err != nil {
		t.log.Error("failed to close smtp connection", sl.Err(err))
	}
}
