package mail

import (
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// SMTPTransport holds one SMTP session open across multiple sends.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration

	client *smtp.Client
}

type SMTPFactory struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

func (f *SMTPFactory) NewTransport() Transport {
	return &SMTPTransport{
		Host:     f.Host,
		Port:     f.Port,
		Username: f.Username,
		Password: f.Password,
		Timeout:  f.Timeout,
	}
}

var _ TransportFactory = (*SMTPFactory)(nil)

func (t *SMTPTransport) Open() error {
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	conn, err := net.DialTimeout("tcp", addr, t.Timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if t.Timeout > 0 {
		// Deadline covers the whole session; each batch opens a fresh
		// transport so a stuck server cannot wedge the dispatcher.
		_ = conn.SetDeadline(time.Now().Add(t.Timeout))
	}

	client, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}

	if t.Username != "" {
		auth := smtp.PlainAuth("", t.Username, t.Password, t.Host)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				client.Close()
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	t.client = client
	return nil
}

func (t *SMTPTransport) Send(msg *Message) error {
	if t.client == nil {
		return fmt.Errorf("smtp transport not open")
	}

	if err := t.client.Mail(msg.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := t.client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}

	w, err := t.client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg.Render())); err != nil {
		w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	return w.Close()
}

func (t *SMTPTransport) Close() error {
	if t.client == nil {
		return nil
	}
	defer func() { t.client = nil }()
	if err := t.client.Quit(); err != nil {
		return t.client.Close()
	}
	return nil
}
