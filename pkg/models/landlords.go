package models

import "time"

// Daraja environments
const (
	DarajaEnvSandbox    = "sandbox"
	DarajaEnvProduction = "production"
)

// Daraja merchant account types
const (
	BusinessTypePaybill = "paybill"
	BusinessTypeTill    = "till"
)

// DarajaConfig holds a landlord's M-Pesa gateway configuration. The consumer
// key, consumer secret and passkey are stored encrypted; plaintext exists only
// transiently while an STK call is being built.
type DarajaConfig struct {
	LandlordID        string     `json:"landlord_id" db:"landlord_id"`
	ConsumerKey       string     `json:"-" db:"consumer_key"`
	ConsumerSecret    string     `json:"-" db:"consumer_secret"`
	Passkey           string     `json:"-" db:"passkey"`
	Environment       string     `json:"environment" db:"environment"`
	BusinessShortCode string     `json:"business_short_code" db:"business_short_code"`
	BusinessType      string     `json:"business_type" db:"business_type"`
	BusinessName      string     `json:"business_name,omitempty" db:"business_name"`
	AccountNumber     string     `json:"account_number,omitempty" db:"account_number"`
	IsConfigured      bool       `json:"is_configured" db:"is_configured"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	ConfiguredAt      *time.Time `json:"configured_at,omitempty" db:"configured_at"`
	LastTestedAt      *time.Time `json:"last_tested_at,omitempty" db:"last_tested_at"`
}

// Tenant is the slice of the tenant record the payments core needs. The tenant
// set is treated as an immutable snapshot for the duration of a statement review.
type Tenant struct {
	ID           string  `json:"id" db:"id"`
	LandlordID   string  `json:"landlord_id" db:"landlord_id"`
	FullName     string  `json:"full_name" db:"full_name"`
	Phone        string  `json:"phone" db:"phone"` // normalized 254XXXXXXXXX
	Email        string  `json:"email,omitempty" db:"email"`
	RentAmount   float64 `json:"rent_amount" db:"rent_amount"`
	PropertyID   string  `json:"property_id,omitempty" db:"property_id"`
	PropertyName string  `json:"property_name,omitempty" db:"property_name"`
	UnitLabel    string  `json:"unit_label,omitempty" db:"unit_label"`
}
