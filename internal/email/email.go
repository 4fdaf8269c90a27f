package email

import (
	"fmt"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	resend "github.com/resend/resend-go/v2"
)

// EmailClient is an interface for sending emails
type EmailClient interface {
	SendAsync(toEmail, subject, htmlBody string)
	SendInvitationEmail(inviteLink, message, toEmail string)
	SendWelcomeEmail(name, toEmail string)
}

// ResendEmailClient implements EmailClient using the Resend service
type ResendEmailClient struct {
	client        *resend.Client
	defaultSender string
	logger        echo.Logger
}

// NewResendEmailClient creates a new ResendEmailClient
func NewResendEmailClient(client *resend.Client, defaultSender string, logger echo.Logger) *ResendEmailClient {
	return &ResendEmailClient{
		client:        client,
		defaultSender: defaultSender,
		logger:        logger,
	}
}

// SendAsync sends an email asynchronously
func (c *ResendEmailClient) SendAsync(toEmail, subject, htmlBody string) {
	if c == nil || c.client == nil {
		fmt.Println("Resend client not initialized, skipping email.")
		return
	}

	if c.defaultSender == "" {
		c.logger.Errorf("Resend default sender not configured, skipping email.")
		return
	}

	go func() {
		params := &resend.SendEmailRequest{
			From:    c.defaultSender,
			To:      []string{toEmail},
			Subject: subject,
			Html:    htmlBody,
		}

		_, err := c.client.Emails.Send(params)
		if err != nil {
			c.logger.Errorf("Failed to send email to %s (Subject: %s): %v\n", toEmail, subject, err)
		} else {
			c.logger.Infof("Email sent successfully to %s (Subject: %s)\n", toEmail, subject)
		}
	}()
}

// SendInvitationEmail sends the board invitation with its accept link.
// The optional admin message is dropped from the template when empty.
func (c *ResendEmailClient) SendInvitationEmail(inviteLink, message, toEmail string) {
	if c == nil || c.client == nil {
		fmt.Println("Resend client not initialized, skipping email.")
		return
	}

	templateBytes, err := os.ReadFile("web/emails/taskboard-invite.html")
	if err != nil {
		c.logger.Errorf("Failed to read invitation email template: %v", err)
		return
	}

	htmlBody := string(templateBytes)
	htmlBody = strings.Replace(htmlBody, "{invite_url}", inviteLink, -1)
	htmlBody = strings.Replace(htmlBody, "{message}", message, -1)

	c.SendAsync(toEmail, "You have been invited to the task board", htmlBody)
}

// SendWelcomeEmail greets a freshly activated account
func (c *ResendEmailClient) SendWelcomeEmail(name, toEmail string) {
	if toEmail == "" {
		c.logger.Error("Cannot send welcome email without an address")
		return
	}

	templateBytes, err := os.ReadFile("web/emails/taskboard-welcome.html")
	if err != nil {
		c.logger.Errorf("Failed to read welcome email template: %v", err)
		return
	}

	if name == "" {
		name = "there"
	}
	htmlBody := strings.Replace(string(templateBytes), "{name}", name, -1)

	c.SendAsync(toEmail, "Welcome to the task board", htmlBody)
}
