// Package daraja is the outbound client for Safaricom's Daraja (M-Pesa) API:
// OAuth token management, STK push initiation and status queries.
package daraja

import (
	"errors"
	"fmt"
)

// Environment base URLs
const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"
)

var (
	// ErrGatewayNotConfigured is returned when a landlord's Daraja config is
	// missing, incomplete or deactivated.
	ErrGatewayNotConfigured = errors.New("daraja: gateway not configured")

	// ErrInvalidPhone is returned when the target phone cannot be normalized.
	ErrInvalidPhone = errors.New("daraja: invalid phone number")

	// ErrAuthFailed is returned when the OAuth token request is rejected.
	ErrAuthFailed = errors.New("daraja: authentication failed")

	// ErrTimeout is returned when an outbound call exceeds its deadline.
	ErrTimeout = errors.New("daraja: request timed out")
)

// RejectionError is returned when Daraja accepts the HTTP call but rejects
// the STK request (ResponseCode != "0").
type RejectionError struct {
	Code        string
	Description string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("daraja: STK push rejected (code %s): %s", e.Code, e.Description)
}

// Credentials is a landlord's decrypted Daraja credential set. Plaintext
// values live only for the duration of a single call.
type Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	Passkey           string
	Environment       string // sandbox | production
	BusinessShortCode string
	BusinessType      string // paybill | till
}

// BaseURL returns the API host for an environment. Unknown environments fall
// back to sandbox so that misconfiguration can never hit production.
func BaseURL(environment string) string {
	if environment == "production" {
		return productionBaseURL
	}
	return sandboxBaseURL
}

// Daraja result codes observed on STK callbacks and status queries.
const (
	ResultCodeSuccess           = 0
	ResultCodeInsufficientFunds = 1
	ResultCodeCancelledLegacy   = 17
	ResultCodeSystemBusy        = 26
	ResultCodeCancelledByUser   = 1032
	ResultCodeTimeout           = 1037
	ResultCodeInvalidInitiator  = 2001
	ResultCodeStillProcessing   = 4999
)

// DescribeResultCode translates a Daraja result code into operator-readable text.
func DescribeResultCode(code int) string {
	switch code {
	case ResultCodeSuccess:
		return "Payment completed successfully"
	case ResultCodeInsufficientFunds:
		return "Insufficient M-Pesa balance"
	case ResultCodeCancelledLegacy, ResultCodeCancelledByUser:
		return "Request cancelled by user"
	case ResultCodeSystemBusy:
		return "M-Pesa system busy, try again shortly"
	case ResultCodeTimeout:
		return "Request timed out waiting for PIN entry"
	case ResultCodeInvalidInitiator:
		return "Invalid initiator information"
	case ResultCodeStillProcessing:
		return "Request is still being processed"
	default:
		return "Payment failed"
	}
}

// IsPending reports whether a result code means the prompt is still in flight.
func IsPending(code int) bool {
	return code == ResultCodeStillProcessing
}
