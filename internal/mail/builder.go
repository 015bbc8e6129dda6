package mail

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mailflare/mailflare-backend/internal/model"
	"github.com/mailflare/mailflare-backend/internal/token"
)

// TestSubjectPrefix marks messages sent through the test path.
const TestSubjectPrefix = "[TEST] "

// Builder renders one personalized message per subscriber. It never
// mutates campaign or subscriber state.
type Builder struct {
	From    string
	BaseURL string
	Tokens  *token.Codec

	strip *bluemonday.Policy
}

func NewBuilder(from, baseURL string, tokens *token.Codec) *Builder {
	return &Builder{
		From:    from,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		strip:   bluemonday.StrictPolicy(),
	}
}

func (b *Builder) Build(c *model.Campaign, sub *model.Subscriber, isTest bool) *Message {
	subject := c.Subject
	if isTest {
		subject = TestSubjectPrefix + subject
	}

	unsubURL := b.UnsubscribeURL(sub.Email)
	htmlBody := b.renderHTML(c, sub, unsubURL)
	textBody := b.plainText(htmlBody)

	return &Message{
		From:     b.From,
		To:       sub.Email,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
		Headers: map[string]string{
			"List-Unsubscribe": fmt.Sprintf("<%s>", unsubURL),
			"X-Campaign-ID":    c.ID.String(),
			"Precedence":       "bulk",
		},
	}
}

func (b *Builder) renderHTML(c *model.Campaign, sub *model.Subscriber, unsubURL string) string {
	body := c.Content
	body = strings.ReplaceAll(body, "{first_name}", sub.FirstName)
	body = strings.ReplaceAll(body, "{last_name}", sub.LastName)
	body = strings.ReplaceAll(body, "{email}", sub.Email)

	var out strings.Builder
	out.WriteString(body)
	out.WriteString(fmt.Sprintf(
		"\n<p><a href=\"%s\">Unsubscribe</a></p>", unsubURL))
	out.WriteString(fmt.Sprintf(
		"\n<img src=\"%s/track/open/%s/%s\" width=\"1\" height=\"1\" alt=\"\" />",
		b.BaseURL, c.ID, sub.ID))
	return out.String()
}

// plainText derives the text part by stripping all markup.
func (b *Builder) plainText(htmlBody string) string {
	return strings.TrimSpace(html.UnescapeString(b.strip.Sanitize(htmlBody)))
}

func (b *Builder) UnsubscribeURL(email string) string {
	return fmt.Sprintf("%s/unsubscribe/%s", b.BaseURL, b.Tokens.Encode(email))
}

// ClickURL wraps target in the click-tracking redirect.
func (b *Builder) ClickURL(c *model.Campaign, sub *model.Subscriber, target string) string {
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s", b.BaseURL, c.ID, sub.ID, target)
}
