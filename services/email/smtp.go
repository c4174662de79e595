package emailsvc

import (
	"crypto/tls"
	"fmt"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sierrawings/backend/core"
)

// smtpTransport sends mail over plain SMTP (Gmail-style: STARTTLS on 587 or
// implicit TLS on 465). Every Send dials a fresh scoped connection which is
// released on every exit path; no connection state is shared across calls.
type smtpTransport struct {
	conf       core.MailConfig
	from       mail.Address
	subjPrefix string
}

var _ core.EmailTransport = (*smtpTransport)(nil)

func NewSMTPTransport(conf *core.Config) *smtpTransport {
	return &smtpTransport{
		conf:       conf.Mail,
		from:       conf.DefaultFromEmail,
		subjPrefix: "[" + conf.AppName + "] ",
	}
}

func (t *smtpTransport) Send(msg *core.EmailMessage) error {
	if !msg.HasRecipients() || !msg.HasContent() {
		return nil
	}

	client, err := t.dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if t.conf.UseTLS && !t.conf.UseSSL {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err = client.StartTLS(&tls.Config{ServerName: t.conf.Host}); err != nil {
				return errors.Wrap(core.ErrTransportUnreachable, err.Error())
			}
		}
	}

	if t.conf.Username != "" {
		auth := smtp.PlainAuth("", t.conf.Username, t.conf.Password, t.conf.Host)
		if err = client.Auth(auth); err != nil {
			return classifyAuthErr(err)
		}
	}

	if err = client.Mail(t.from.Address); err != nil {
		return errors.Wrap(err, "smtp MAIL FROM")
	}
	for _, rcpt := range allRecipients(msg) {
		if err = client.Rcpt(rcpt.Address); err != nil {
			return errors.Wrap(err, "smtp RCPT TO")
		}
	}

	w, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "smtp DATA")
	}
	if _, err = w.Write(t.buildBody(msg)); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "writing message body")
	}
	if err = w.Close(); err != nil {
		return errors.Wrap(err, "closing message body")
	}

	return client.Quit()
}

// dial opens the scoped connection, implicit TLS when configured.
func (t *smtpTransport) dial() (*smtp.Client, error) {
	addr := t.conf.Addr()
	dialer := &net.Dialer{Timeout: t.conf.Timeout}

	if t.conf.UseSSL {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: t.conf.Host})
		if err != nil {
			return nil, errors.Wrap(core.ErrTransportUnreachable, err.Error())
		}
		client, err := smtp.NewClient(conn, t.conf.Host)
		if err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(core.ErrTransportUnreachable, err.Error())
		}
		return client, nil
	}

	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(core.ErrTransportUnreachable, err.Error())
	}
	client, err := smtp.NewClient(conn, t.conf.Host)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(core.ErrTransportUnreachable, err.Error())
	}
	return client, nil
}

func (t *smtpTransport) buildBody(msg *core.EmailMessage) []byte {
	var b strings.Builder
	boundary := fmt.Sprintf("sw-alt-%d", time.Now().UnixNano())

	fmt.Fprintf(&b, "From: %s\r\n", t.from.String())
	fmt.Fprintf(&b, "To: %s\r\n", joinAddresses(msg.To))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", joinAddresses(msg.Cc))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", t.subjPrefix+msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprint(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	writePart := func(contentType, content string) {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		fmt.Fprintf(&b, "Content-Type: %s; charset=UTF-8\r\n", contentType)
		fmt.Fprint(&b, "Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		qp := quotedprintable.NewWriter(&b)
		_, _ = qp.Write([]byte(content))
		_ = qp.Close()
		fmt.Fprint(&b, "\r\n")
	}

	if msg.TextContent != "" {
		writePart("text/plain", msg.TextContent)
	}
	if msg.HTMLContent != "" {
		writePart("text/html", msg.HTMLContent)
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return []byte(b.String())
}

// classifyAuthErr distinguishes a credential rejection from other AUTH-stage
// failures so operators can tell "wrong app password" from "network flake".
func classifyAuthErr(err error) error {
	msg := err.Error()
	// 535: authentication credentials invalid; 530: authentication required
	if strings.HasPrefix(msg, "535") || strings.HasPrefix(msg, "530") ||
		strings.Contains(strings.ToLower(msg), "username and password not accepted") {
		return errors.Wrap(core.ErrTransportAuth, msg)
	}
	return errors.Wrap(err, "smtp AUTH")
}

func allRecipients(msg *core.EmailMessage) []mail.Address {
	rcpts := make([]mail.Address, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	rcpts = append(rcpts, msg.To...)
	rcpts = append(rcpts, msg.Cc...)
	rcpts = append(rcpts, msg.Bcc...)
	return rcpts
}

func joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}
