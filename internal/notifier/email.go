package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pauljones0/rfd-deal-digest/internal/config"
	"github.com/pauljones0/rfd-deal-digest/internal/metrics"
)

const dialTimeout = 30 * time.Second

// ErrNoRecipients is returned by Send when there is nobody to deliver to.
// Nothing is dialed in that case.
var ErrNoRecipients = errors.New("no recipients")

// DeliveryError wraps any failure talking to the mail relay. Op names the
// SMTP step that failed.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("email delivery failed during %s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type dialFunc func(ctx context.Context, addr, host string) (net.Conn, error)

// Client sends digest emails through one authenticated relay session per
// call. Recipients only ever appear in the SMTP envelope.
type Client struct {
	sender   string
	password string
	addr     string
	startTLS bool

	dial dialFunc
	now  func() time.Time
}

func New(sender, password, addr string, startTLS bool) *Client {
	c := &Client{
		sender:   sender,
		password: password,
		addr:     addr,
		startTLS: startTLS,
		now:      time.Now,
	}
	c.dial = c.dialRelay
	return c
}

// NewFromConfig builds a Client from the mail settings in cfg.
func NewFromConfig(cfg *config.Config) *Client {
	return New(cfg.EmailSender, cfg.EmailPassword, cfg.SMTPAddr, cfg.SMTPStartTLS)
}

// Send delivers one HTML message to every recipient. The visible To header
// is the sender's own address.
func (c *Client) Send(ctx context.Context, subject, htmlBody string, recipients []string) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	msg, err := c.buildMessage(subject, htmlBody)
	if err != nil {
		return &DeliveryError{Op: "compose", Err: err}
	}

	if err := c.deliver(ctx, msg, recipients); err != nil {
		slog.Error("Failed to send digest email", "error", err, "recipients", len(recipients))
		return err
	}

	metrics.RecipientsDelivered.Add(float64(len(recipients)))
	slog.Info("Digest email sent", "recipients", len(recipients), "subject", subject)
	return nil
}

func (c *Client) dialRelay(ctx context.Context, addr, host string) (net.Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	if c.startTLS {
		return d.DialContext(ctx, "tcp", addr)
	}
	td := &tls.Dialer{
		NetDialer: d,
		Config:    &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}
	return td.DialContext(ctx, "tcp", addr)
}

func (c *Client) deliver(ctx context.Context, msg []byte, recipients []string) error {
	host, _, err := net.SplitHostPort(c.addr)
	if err != nil {
		return &DeliveryError{Op: "dial", Err: fmt.Errorf("invalid relay address %q: %w", c.addr, err)}
	}

	conn, err := c.dial(ctx, c.addr, host)
	if err != nil {
		return &DeliveryError{Op: "dial", Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return &DeliveryError{Op: "greeting", Err: err}
	}
	defer client.Close()

	if c.startTLS {
		if err := client.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return &DeliveryError{Op: "starttls", Err: err}
		}
	}

	if err := client.Auth(smtp.PlainAuth("", c.sender, c.password, host)); err != nil {
		return &DeliveryError{Op: "auth", Err: err}
	}
	if err := client.Mail(c.sender); err != nil {
		return &DeliveryError{Op: "mail", Err: err}
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return &DeliveryError{Op: "rcpt", Err: fmt.Errorf("%s: %w", rcpt, err)}
		}
	}

	w, err := client.Data()
	if err != nil {
		return &DeliveryError{Op: "data", Err: err}
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return &DeliveryError{Op: "data", Err: err}
	}
	if err := w.Close(); err != nil {
		return &DeliveryError{Op: "data", Err: err}
	}

	if err := client.Quit(); err != nil {
		slog.Warn("SMTP QUIT failed after message was accepted", "error", err)
	}
	return nil
}

var headerSanitizer = strings.NewReplacer("\r", " ", "\n", " ")

func (c *Client) buildMessage(subject, htmlBody string) ([]byte, error) {
	var buf bytes.Buffer

	headers := []struct{ key, value string }{
		{"From", c.sender},
		{"To", c.sender},
		{"Subject", mime.QEncoding.Encode("utf-8", headerSanitizer.Replace(subject))},
		{"Date", c.now().Format(time.RFC1123Z)},
		{"Message-ID", c.messageID()},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/html; charset="UTF-8"`},
		{"Content-Transfer-Encoding", "quoted-printable"},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.key, h.value)
	}
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(htmlBody)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Client) messageID() string {
	domain := "localhost"
	if at := strings.LastIndex(c.sender, "@"); at >= 0 && at < len(c.sender)-1 {
		domain = c.sender[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
