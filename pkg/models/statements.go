package models

import "time"

// Statement lifecycle
const (
	StatementStatusUploaded = "uploaded"
	StatementStatusInReview = "in_review"
	StatementStatusApproved = "approved"
	StatementStatusDeleted  = "deleted"
)

// TransactionMatch review states. pending and manual are approvable; approved
// and rejected are terminal.
const (
	MatchStatusPending  = "pending"
	MatchStatusApproved = "approved"
	MatchStatusRejected = "rejected"
	MatchStatusManual   = "manual"
)

// Match outcome per transaction after scoring
const (
	MatchOutcomeMatched   = "matched"
	MatchOutcomeAmbiguous = "ambiguous"
	MatchOutcomeNoMatch   = "no_match"
)

// Confidence bands derived from the overall score
const (
	ConfidenceHigh   = "high"   // >= 90
	ConfidenceMedium = "medium" // >= 75
	ConfidenceLow    = "low"    // >= 60
	ConfidenceNone   = "none"
)

// Match types describe which signals agreed
const (
	MatchTypePerfect = "perfect"
	MatchTypeGood    = "good"
	MatchTypePartial = "partial"
	MatchTypeWeak    = "weak"
	MatchTypeNone    = "none"
)

// Statement is one uploaded M-Pesa statement owned by a landlord. Deleting a
// statement cascades to its matches but never to approved payment history.
type Statement struct {
	ID                  string     `json:"id" db:"id"`
	LandlordID          string     `json:"landlord_id" db:"landlord_id"`
	FileName            string     `json:"file_name" db:"file_name"`
	UploadDate          time.Time  `json:"upload_date" db:"upload_date"`
	PeriodStart         *time.Time `json:"period_start,omitempty" db:"period_start"`
	PeriodEnd           *time.Time `json:"period_end,omitempty" db:"period_end"`
	TotalTransactions   int        `json:"total_transactions" db:"total_transactions"`
	MatchedTransactions int        `json:"matched_transactions" db:"matched_transactions"`
	Status              string     `json:"status" db:"status"`
}

// ParsedTransaction is one "Paid In" record extracted from statement text.
// The counterparty phone is masked in the source; only the last three digits
// survive.
type ParsedTransaction struct {
	ReceiptNo        string    `json:"receipt_no"`
	CompletionTime   time.Time `json:"completion_time"`
	Details          string    `json:"details"`
	SenderPhone      string    `json:"sender_phone"`       // masked, e.g. 0****393
	SenderPhoneLast3 string    `json:"sender_phone_last3"` // exactly 3 digits
	SenderName       string    `json:"sender_name"`        // title-cased
	Amount           float64   `json:"amount"`
	Balance          float64   `json:"balance"`
}

// MatchScores carries the per-signal and combined scores for one
// (transaction, tenant) candidate.
type MatchScores struct {
	PhoneScore    float64 `json:"phone_score"`
	NameScore     float64 `json:"name_score"`
	AmountScore   float64 `json:"amount_score"`
	OverallScore  float64 `json:"overall_score"`
	Confidence    string  `json:"confidence"`
	MatchType     string  `json:"match_type"`
	WithUtilities bool    `json:"with_utilities,omitempty"`
}

// TenantMatch is a scored candidate tenant for a parsed transaction.
type TenantMatch struct {
	TenantID   string      `json:"tenant_id"`
	TenantName string      `json:"tenant_name"`
	RentAmount float64     `json:"rent_amount"`
	Scores     MatchScores `json:"scores"`
}

// TransactionMatch is the reviewable unit: one parsed transaction plus its
// best and alternative tenant candidates, owned by a statement.
type TransactionMatch struct {
	ID                 string            `json:"id" db:"id"`
	StatementID        string            `json:"statement_id" db:"statement_id"`
	Transaction        ParsedTransaction `json:"transaction"`
	MatchedTenant      *TenantMatch      `json:"matched_tenant,omitempty"`
	AlternativeMatches []TenantMatch     `json:"alternative_matches,omitempty"`
	Outcome            string            `json:"outcome" db:"outcome"`
	Status             string            `json:"status" db:"status"`
	ReviewNotes        string            `json:"review_notes,omitempty" db:"review_notes"`
	ReviewedAt         *time.Time        `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
}

// Terminal reports whether the match can no longer be acted on.
func (m *TransactionMatch) Terminal() bool {
	return m.Status == MatchStatusApproved || m.Status == MatchStatusRejected
}

// StatementSummary aggregates a parse run.
type StatementSummary struct {
	TotalTransactions int        `json:"total_transactions"`
	TotalAmount       float64    `json:"total_amount"`
	UniqueSenders     int        `json:"unique_senders"`
	DateRangeStart    *time.Time `json:"date_range_start,omitempty"`
	DateRangeEnd      *time.Time `json:"date_range_end,omitempty"`
}
