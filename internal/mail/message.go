package mail

import (
	"fmt"
	"mime"
	"net/mail"
	"sort"
	"strings"
	"time"
)

// Message is a fully-prepared outbound email. Both body parts are
// always present; Render emits a multipart/alternative payload.
type Message struct {
	From     string
	To       string
	Subject  string
	TextBody string
	HTMLBody string
	Headers  map[string]string
}

// Render serializes the message into RFC 5322 wire format.
func (m *Message) Render() string {
	var b strings.Builder
	from := mail.Address{Address: m.From}
	to := mail.Address{Address: m.To}

	b.WriteString(fmt.Sprintf("From: %s\r\n", from.String()))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to.String()))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject)))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")

	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%s: %s\r\n", k, m.Headers[k]))
	}

	boundary := fmt.Sprintf("alt-%d", time.Now().UnixNano())
	b.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary))

	b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(m.TextBody)
	b.WriteString("\r\n")

	b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(m.HTMLBody)
	b.WriteString("\r\n")

	b.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return b.String()
}
