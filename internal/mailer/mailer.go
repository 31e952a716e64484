// Package mailer sends the generated request artifact by e-mail.
//
// All caller-supplied strings that end up in protocol header fields (the
// recipient address, the subject, the attachment filename) are sanitized
// before use: CR/LF and other control characters are removed so a crafted
// value cannot inject extra headers or break out of the quoted filename.
// Sanitization is logged whenever it actually changes its input, since that
// is the signature of an injection attempt.
//
// This path deliberately performs no automatic retry: after an ambiguous
// failure a repeated send could deliver the file twice, which is a visible
// external side effect. A transient failure is surfaced to the workflow as a
// terminal failure instead.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"
)

var (
	// ErrInvalidRecipient indicates the recipient address fails the minimal
	// structural check; no network call is made.
	ErrInvalidRecipient = errors.New("invalid recipient address")

	// ErrAttachmentTooLarge indicates the artifact exceeds MaxAttachmentSize;
	// no network call is made.
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
)

// MaxAttachmentSize bounds the artifact size accepted for dispatch.
const MaxAttachmentSize = 10 << 20 // 10 MiB

// Config holds the SMTP transport settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
	// Timeout bounds the whole dial-and-send exchange; expiry is reported as
	// a dispatch failure.
	Timeout time.Duration
}

// SMTPDispatcher sends artifacts as e-mail attachments over SMTP.
type SMTPDispatcher struct {
	cfg Config
}

// NewSMTPDispatcher validates the transport configuration and returns a
// dispatcher. Host and From are required; everything else has usable
// defaults.
func NewSMTPDispatcher(cfg Config) (*SMTPDispatcher, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is not configured")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp sender is not configured")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPDispatcher{cfg: cfg}, nil
}

// Send dispatches one message with the artifact attached. Header fields are
// sanitized, the recipient is validated, and the attachment size is checked
// before any network traffic.
func (d *SMTPDispatcher) Send(ctx context.Context, to, subject, body string, attachment []byte, filename string) error {
	to = SanitizeHeader("to", to)
	subject = SanitizeHeader("subject", subject)
	filename = SanitizeFilename(filename)

	if !strings.Contains(to, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}
	if len(attachment) > MaxAttachmentSize {
		return fmt.Errorf("%w: %d bytes", ErrAttachmentTooLarge, len(attachment))
	}

	msg := mail.NewMsg()
	if err := msg.From(d.cfg.From); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	if err := msg.AttachReader(filename, bytes.NewReader(attachment)); err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(d.cfg.Port),
		mail.WithTimeout(d.cfg.Timeout),
	}
	if d.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(d.cfg.Username),
			mail.WithPassword(d.cfg.Password),
		)
	}
	if d.cfg.StartTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(d.cfg.Host, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return err
	}

	log.Info().
		Str("to", to).
		Str("filename", filename).
		Msg("artifact dispatched")
	return nil
}

// SanitizeHeader strips CR, LF, and other control characters from a value
// destined for a protocol header field. A change is logged: legitimate input
// never contains control characters here.
func SanitizeHeader(field, value string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, value)
	if cleaned != value {
		log.Warn().
			Str("field", field).
			Msg("control characters removed from header value")
	}
	return strings.TrimSpace(cleaned)
}

// SanitizeFilename removes control characters and the quote/path characters
// that could break out of the quoted filename parameter of the attachment
// header.
func SanitizeFilename(name string) string {
	cleaned := SanitizeHeader("filename", name)
	cleaned = strings.NewReplacer(`"`, "", "/", "-", "\\", "-").Replace(cleaned)
	if cleaned == "" {
		cleaned = "attachment.xlsx"
	}
	return cleaned
}
