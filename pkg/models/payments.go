package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Payment intent lifecycle. An intent is created pending and moves to exactly
// one terminal status, exactly once.
const (
	IntentStatusPending   = "pending"
	IntentStatusSuccess   = "success"
	IntentStatusFailed    = "failed"
	IntentStatusTimeout   = "timeout"
	IntentStatusCancelled = "cancelled"
)

// Payment methods recorded on history rows
const (
	PaymentMethodMpesa  = "mpesa"
	PaymentMethodCash   = "cash"
	PaymentMethodManual = "manual"
)

// Payment history statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPartial   = "partial"
	PaymentStatusCompleted = "completed"
	PaymentStatusOverpaid  = "overpaid"
)

// IntentExpiry is how long an STK prompt stays answerable before the intent is
// eligible for passive timeout.
const IntentExpiry = 2 * time.Minute

// PaymentIntent tracks one STK push from initiation to its terminal status.
type PaymentIntent struct {
	ID                string     `json:"id" db:"id"`
	LandlordID        string     `json:"landlord_id" db:"landlord_id"`
	TenantID          string     `json:"tenant_id" db:"tenant_id"`
	BillID            string     `json:"bill_id,omitempty" db:"bill_id"`
	Amount            float64    `json:"amount" db:"amount"`
	PhoneNumber       string     `json:"phone_number" db:"phone_number"`
	PaymentReference  string     `json:"payment_reference" db:"payment_reference"`
	AccountReference  string     `json:"account_reference" db:"account_reference"`
	TransactionDesc   string     `json:"transaction_desc" db:"transaction_desc"`
	BusinessShortCode string     `json:"business_short_code" db:"business_short_code"`
	BusinessType      string     `json:"business_type" db:"business_type"`
	Status            string     `json:"status" db:"status"`
	IdempotencyKey    string     `json:"idempotency_key,omitempty" db:"idempotency_key"`
	MerchantRequestID string     `json:"merchant_request_id,omitempty" db:"merchant_request_id"`
	CheckoutRequestID string     `json:"checkout_request_id,omitempty" db:"checkout_request_id"`
	TransactionID     string     `json:"transaction_id,omitempty" db:"transaction_id"`
	ResultCode        *int       `json:"result_code,omitempty" db:"result_code"`
	ResultDesc        string     `json:"result_desc,omitempty" db:"result_desc"`
	CallbackReceived  bool       `json:"callback_received" db:"callback_received"`
	ExpiresAt         time.Time  `json:"expires_at" db:"expires_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether a still-pending intent has outlived its STK prompt.
func (p *PaymentIntent) Expired(now time.Time) bool {
	return p.Status == IntentStatusPending && now.After(p.ExpiresAt)
}

// CallbackLog is the append-only audit record of every inbound Daraja
// callback, valid or not. Invalid payloads are stored with a sentinel code.
type CallbackLog struct {
	ID                string    `json:"id" db:"id"`
	MerchantRequestID string    `json:"merchant_request_id" db:"merchant_request_id"`
	CheckoutRequestID string    `json:"checkout_request_id" db:"checkout_request_id"`
	ResultCode        int       `json:"result_code" db:"result_code"`
	ResultDesc        string    `json:"result_desc" db:"result_desc"`
	RawPayload        string    `json:"raw_payload" db:"raw_payload"`
	ReceivedAt        time.Time `json:"received_at" db:"received_at"`
}

// CallbackLogInvalidCode marks callback log rows whose payload never parsed.
const CallbackLogInvalidCode = -1

// UtilityCharge is one line of metered charges attached to a payment.
type UtilityCharge struct {
	Type         string  `json:"type"`
	UnitsUsed    float64 `json:"units_used"`
	PricePerUnit float64 `json:"price_per_unit"`
	Total        float64 `json:"total"`
}

// UtilityCharges is stored as a JSONB array.
type UtilityCharges []UtilityCharge

// Value implements driver.Valuer for JSONB storage
func (u UtilityCharges) Value() (driver.Value, error) {
	if u == nil {
		return "[]", nil
	}
	return json.Marshal(u)
}

// Scan implements sql.Scanner for JSONB storage
func (u *UtilityCharges) Scan(value interface{}) error {
	if value == nil {
		*u = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for UtilityCharges", value)
	}
	return json.Unmarshal(bytes, u)
}

// TotalCost sums the charge lines.
func (u UtilityCharges) TotalCost() float64 {
	var total float64
	for _, c := range u {
		total += c.Total
	}
	return total
}

// PaymentHistory is the settled-obligation record. At most one row references
// a given payment intent.
type PaymentHistory struct {
	ID               string         `json:"id" db:"id"`
	TenantID         string         `json:"tenant_id" db:"tenant_id"`
	LandlordID       string         `json:"landlord_id" db:"landlord_id"`
	PropertyID       string         `json:"property_id,omitempty" db:"property_id"`
	Amount           float64        `json:"amount" db:"amount"`
	PaymentDate      time.Time      `json:"payment_date" db:"payment_date"`
	ForMonth         int            `json:"for_month" db:"for_month"` // 1..12
	ForYear          int            `json:"for_year" db:"for_year"`
	MonthlyRent      float64        `json:"monthly_rent" db:"monthly_rent"`
	PaymentMethod    string         `json:"payment_method" db:"payment_method"`
	Status           string         `json:"status" db:"status"`
	Notes            string         `json:"notes,omitempty" db:"notes"`
	UtilityCharges   UtilityCharges `json:"utility_charges" db:"utility_charges"`
	TotalUtilityCost float64        `json:"total_utility_cost" db:"total_utility_cost"`
	TransactionID    string         `json:"transaction_id,omitempty" db:"transaction_id"`
	IntentID         string         `json:"intent_id,omitempty" db:"intent_id"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
}
