package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// ErrNoRecipient marks an event that has no address for a channel
var ErrNoRecipient = errors.New("no recipient")

var statusMessages = map[string]string{
	"VERIFIED":     "Your documents have been verified. A loan officer will make a final decision shortly.",
	"NEEDS_REVIEW": "Your application needs a manual review. A loan officer may contact you for more information.",
	"REJECTED":     "We are unable to proceed with your application.",
	"APPROVED":     "Your loan application has been approved.",
}

type sesSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailChannel notifies the applicant through SES
type EmailChannel struct {
	client sesSender
	from   string
}

func NewEmailChannel(client sesSender, from string) *EmailChannel {
	return &EmailChannel{client: client, from: from}
}

func (c *EmailChannel) Name() string { return ChannelEmail }

func (c *EmailChannel) Send(ctx context.Context, event StatusEvent) (string, error) {
	if strings.TrimSpace(event.Email) == "" {
		return "", ErrNoRecipient
	}

	out, err := c.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.from),
		Destination: &types.Destination{
			ToAddresses: []string{event.Email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(event.Subject())},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(emailBody(event))},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func emailBody(event StatusEvent) string {
	var b strings.Builder
	name := event.ApplicantName
	if name == "" {
		name = "applicant"
	}
	fmt.Fprintf(&b, "Dear %s,\n\n", name)
	if msg, ok := statusMessages[event.Status]; ok {
		b.WriteString(msg)
	} else {
		fmt.Fprintf(&b, "Your application status is now %s.", event.Status)
	}
	fmt.Fprintf(&b, "\n\nApplication reference: %s\n", event.ApplicationID)
	return b.String()
}
