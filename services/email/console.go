package emailsvc

import (
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/sierrawings/backend/core"
)

// consoleTransport writes mail to stdout; used in DEV and TEST.
type consoleTransport struct {
	from          mail.Address
	subjPrefix    string
	disableOutput bool

	mu   sync.Mutex
	sent []core.EmailMessage
}

var _ core.EmailTransport = (*consoleTransport)(nil)

func NewConsoleTransport(conf *core.Config) *consoleTransport {
	return &consoleTransport{
		from:       conf.DefaultFromEmail,
		subjPrefix: "[" + conf.AppName + "] ",
	}
}

// NewConsoleTransportMock returns a silent transport that records sent
// messages for assertions.
func NewConsoleTransportMock(conf *core.Config) *consoleTransport {
	t := NewConsoleTransport(conf)
	t.disableOutput = true
	return t
}

func (t *consoleTransport) Send(msg *core.EmailMessage) error {
	if !msg.HasRecipients() || !msg.HasContent() {
		return nil
	}

	if !t.disableOutput {
		body := new(strings.Builder)
		fmt.Fprintf(body, "From: %s\r\n", t.from.String())
		fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
		fmt.Fprintf(body, "Subject: %s\r\n", t.subjPrefix+msg.Subject)
		fmt.Fprintf(body, "To: %s\r\n", joinAddresses(msg.To))
		fmt.Fprintf(body, "\r\n%s\r\n", msg.TextContent)
		log.Println(body.String())
	}

	t.mu.Lock()
	t.sent = append(t.sent, *msg)
	t.mu.Unlock()
	return nil
}

// SentMessages returns a snapshot of everything sent through this transport.
func (t *consoleTransport) SentMessages() []core.EmailMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.EmailMessage, len(t.sent))
	copy(out, t.sent)
	return out
}
