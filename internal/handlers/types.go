package handlers

import (
	"time"

	"github.com/Carey99/RentEase-sub000/pkg/models"
)

// STKPushRequest is the inbound payload for initiating an STK prompt. A
// client that retries an initiation sends the same IdempotencyKey; without
// one the server derives a key itself.
type STKPushRequest struct {
	LandlordID     string  `json:"landlordId" binding:"required"`
	TenantID       string  `json:"tenantId" binding:"required"`
	Phone          string  `json:"phone" binding:"required"`
	Amount         float64 `json:"amount" binding:"required,gt=0"`
	BillID         string  `json:"billId"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

// STKPushResponse acknowledges a queued STK prompt.
type STKPushResponse struct {
	Success           bool   `json:"success"`
	CheckoutRequestID string `json:"checkoutRequestID,omitempty"`
	MerchantRequestID string `json:"merchantRequestID,omitempty"`
	PaymentReference  string `json:"paymentReference,omitempty"`
	CustomerMessage   string `json:"customerMessage,omitempty"`
	Error             string `json:"error,omitempty"`
	Retryable         bool   `json:"retryable,omitempty"`
}

// DarajaConfigureRequest carries a landlord's gateway credentials.
type DarajaConfigureRequest struct {
	BusinessShortCode string `json:"businessShortCode" binding:"required"`
	BusinessType      string `json:"businessType" binding:"required"`
	BusinessName      string `json:"businessName"`
	AccountNumber     string `json:"accountNumber"`
	ConsumerKey       string `json:"consumerKey" binding:"required"`
	ConsumerSecret    string `json:"consumerSecret" binding:"required"`
	Passkey           string `json:"passkey" binding:"required"`
	Environment       string `json:"environment" binding:"required"`
}

// DarajaStatusResponse summarizes a landlord's gateway state with
// credentials masked.
type DarajaStatusResponse struct {
	IsConfigured      bool       `json:"isConfigured"`
	IsActive          bool       `json:"isActive"`
	Environment       string     `json:"environment,omitempty"`
	BusinessShortCode string     `json:"businessShortCode,omitempty"`
	BusinessType      string     `json:"businessType,omitempty"`
	BusinessName      string     `json:"businessName,omitempty"`
	ConsumerKey       string     `json:"consumerKey,omitempty"` // masked
	ConfiguredAt      *time.Time `json:"configuredAt,omitempty"`
	LastTestedAt      *time.Time `json:"lastTestedAt,omitempty"`
}

// DarajaTestResponse reports a connectivity test against the gateway.
type DarajaTestResponse struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	TestedAt time.Time `json:"testedAt"`
}

// StatementUploadRequest carries extracted statement text. The PDF to text
// conversion happens upstream.
type StatementUploadRequest struct {
	FileName    string     `json:"fileName" binding:"required"`
	RawText     string     `json:"rawText" binding:"required"`
	PeriodStart *time.Time `json:"periodStart"`
	PeriodEnd   *time.Time `json:"periodEnd"`
}

// StatementUploadResponse summarizes an ingest run.
type StatementUploadResponse struct {
	Statement models.Statement        `json:"statement"`
	Summary   models.StatementSummary `json:"summary"`
}

// MatchReviewRequest carries optional reviewer notes.
type MatchReviewRequest struct {
	Notes string `json:"notes"`
}

// ManualMatchRequest rebinds a transaction to an explicitly chosen tenant.
type ManualMatchRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
}

// ErrorResponse is the generic failure envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// DarajaCallbackEnvelope is the payload Daraja posts to the callback URL.
type DarajaCallbackEnvelope struct {
	Body struct {
		StkCallback *StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallback is the inner callback record.
type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata carries the success-path item list.
type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem is one metadata entry; Value is a string or number.
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

// CallbackAck is returned to Daraja in all outcomes.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}
