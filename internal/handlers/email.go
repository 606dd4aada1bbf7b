package handlers

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/Carey99/RentEase-sub000/pkg/config"
	"github.com/Carey99/RentEase-sub000/pkg/logging"
	"github.com/Carey99/RentEase-sub000/pkg/models"
)

// EmailService handles email notifications
type EmailService struct {
	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
	fromEmail    string
	fromName     string
	logger       logging.Logger
}

// PaymentEmailData represents data for the payment notification template
type PaymentEmailData struct {
	TenantName    string
	Amount        float64
	PaymentDate   time.Time
	ReceiptNumber string
	PropertyName  string
	UnitNumber    string
	ForPeriod     string
}

// NewEmailService creates a new email service instance
func NewEmailService(logger logging.Logger) *EmailService {
	return &EmailService{
		smtpHost:     config.GetEnv("SMTP_HOST", ""),
		smtpPort:     config.GetEnvInt("SMTP_PORT", 587),
		smtpUser:     config.GetEnv("SMTP_USER", ""),
		smtpPassword: config.GetEnv("SMTP_PASSWORD", ""),
		fromEmail:    config.GetEnv("FROM_EMAIL", ""),
		fromName:     config.GetEnv("FROM_NAME", ""),
		logger:       logger,
	}
}

// IsConfigured checks if email service is properly configured
func (es *EmailService) IsConfigured() bool {
	return es.smtpHost != "" && es.smtpUser != "" && es.smtpPassword != "" && es.fromEmail != ""
}

var paymentReceivedTemplate = template.Must(template.New("payment_received").Parse(`
<h2>Payment Received</h2>
<p>Hi {{.TenantName}},</p>
<p>Your rent payment has been received.</p>
<table>
  <tr><td>Amount</td><td>KSH {{printf "%.2f" .Amount}}</td></tr>
  <tr><td>Receipt</td><td>{{.ReceiptNumber}}</td></tr>
  <tr><td>Date</td><td>{{.PaymentDate.Format "2 Jan 2006 15:04"}}</td></tr>
  {{if .PropertyName}}<tr><td>Property</td><td>{{.PropertyName}}{{if .UnitNumber}} - {{.UnitNumber}}{{end}}</td></tr>{{end}}
  <tr><td>Period</td><td>{{.ForPeriod}}</td></tr>
</table>
<p>Thank you.</p>
`))

// SendPaymentReceivedEmail sends a payment confirmation to the tenant.
func (es *EmailService) SendPaymentReceivedEmail(toEmail string, data PaymentEmailData) error {
	if !es.IsConfigured() {
		es.logger.Debug("Email service not configured, skipping payment notification")
		return nil
	}

	var body bytes.Buffer
	if err := paymentReceivedTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render payment email: %w", err)
	}

	subject := fmt.Sprintf("Payment received - KSH %.2f", data.Amount)
	return es.send(toEmail, subject, body.String())
}

func (es *EmailService) send(to, subject, htmlBody string) error {
	from := es.fromEmail
	if es.fromName != "" {
		from = fmt.Sprintf("%s <%s>", es.fromName, es.fromEmail)
	}

	msg := []byte("From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" + htmlBody)

	addr := fmt.Sprintf("%s:%d", es.smtpHost, es.smtpPort)
	auth := smtp.PlainAuth("", es.smtpUser, es.smtpPassword, es.smtpHost)
	if err := smtp.SendMail(addr, auth, es.fromEmail, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	es.logger.WithFields(logging.Fields{
		"to":      to,
		"subject": subject,
	}).Info("Email sent")
	return nil
}

// sendPaymentReceivedEmail notifies the tenant after a confirmed payment,
// honoring the landlord's notification setting. Runs off the callback path;
// failures are logged only.
func sendPaymentReceivedEmail(intent *models.PaymentIntent, receipt string, paymentDate time.Time) {
	var notificationsEnabled bool
	err := db.QueryRow(`
		SELECT email_notifications FROM rentease.landlord_settings WHERE landlord_id = $1
	`, intent.LandlordID).Scan(&notificationsEnabled)
	if err != nil || !notificationsEnabled {
		return
	}

	tenant, err := getTenant(intent.TenantID, intent.LandlordID)
	if err != nil {
		logger.WithError(err).WithField("tenant_id", intent.TenantID).Warn("Failed to load tenant for payment email")
		return
	}
	if tenant.Email == "" {
		logger.WithField("tenant_id", intent.TenantID).Debug("Tenant has no email, skipping payment notification")
		return
	}

	data := PaymentEmailData{
		TenantName:    tenant.FullName,
		Amount:        intent.Amount,
		PaymentDate:   paymentDate,
		ReceiptNumber: receipt,
		PropertyName:  tenant.PropertyName,
		UnitNumber:    tenant.UnitLabel,
		ForPeriod:     fmt.Sprintf("%s %d", paymentDate.Month().String(), paymentDate.Year()),
	}
	if err := emailService.SendPaymentReceivedEmail(tenant.Email, data); err != nil {
		logger.WithError(err).WithField("tenant_id", intent.TenantID).Error("Failed to send payment received email")
	}
}
