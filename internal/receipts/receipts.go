// Package receipts assembles receipt records from completed payments. The
// actual PDF rendering happens in an external sink; this package only builds
// the data it consumes.
package receipts

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Carey99/RentEase-sub000/pkg/models"
)

// ErrNotCompleted is returned when a receipt is requested for a payment that
// has not settled.
var ErrNotCompleted = errors.New("receipts: payment is not completed")

// Receipt is the record handed to the PDF sink.
type Receipt struct {
	ReceiptNumber         string                `json:"receipt_number"`
	TenantID              string                `json:"tenant_id"`
	TenantName            string                `json:"tenant_name"`
	PropertyName          string                `json:"property_name,omitempty"`
	UnitLabel             string                `json:"unit_label,omitempty"`
	Amount                float64               `json:"amount"`
	PaymentDate           time.Time             `json:"payment_date"`
	PaymentPeriod         string                `json:"payment_period"`
	PaymentMethod         string                `json:"payment_method"`
	TransactionID         string                `json:"transaction_id,omitempty"`
	MonthlyRent           float64               `json:"monthly_rent"`
	CurrentMonthRent      float64               `json:"current_month_rent"`
	HistoricalDebt        float64               `json:"historical_debt"`
	HistoricalDebtDetails string                `json:"historical_debt_details,omitempty"`
	UtilityCharges        models.UtilityCharges `json:"utility_charges"`
	TotalUtilityCost      float64               `json:"total_utility_cost"`
	Notes                 string                `json:"notes,omitempty"`
}

// historicalDebtPattern matches the note fragment appended when a payment
// covers carried-over arrears, e.g.
// "Includes historical debt: KSH 4500.00 (Oct 2025 balance)".
var historicalDebtPattern = regexp.MustCompile(`Includes historical debt: KSH ([\d,]+(?:\.\d+)?) \(([^)]*)\)`)

// Assemble builds the receipt for a completed payment. The tenant snapshot
// supplies display fields the history row does not carry.
func Assemble(history *models.PaymentHistory, tenant *models.Tenant) (*Receipt, error) {
	if history.Status != models.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: status %q", ErrNotCompleted, history.Status)
	}

	debt, debtDetails := parseHistoricalDebt(history.Notes)
	currentMonthRent := history.MonthlyRent - debt

	r := &Receipt{
		ReceiptNumber:         ReceiptNumber(history.ID),
		TenantID:              history.TenantID,
		Amount:                history.Amount,
		PaymentDate:           history.PaymentDate,
		PaymentPeriod:         PaymentPeriod(history.ForMonth, history.ForYear),
		PaymentMethod:         history.PaymentMethod,
		TransactionID:         history.TransactionID,
		MonthlyRent:           history.MonthlyRent,
		CurrentMonthRent:      currentMonthRent,
		HistoricalDebt:        debt,
		HistoricalDebtDetails: debtDetails,
		UtilityCharges:        history.UtilityCharges,
		TotalUtilityCost:      history.TotalUtilityCost,
		Notes:                 history.Notes,
	}
	if tenant != nil {
		r.TenantName = tenant.FullName
		r.PropertyName = tenant.PropertyName
		r.UnitLabel = tenant.UnitLabel
	}
	return r, nil
}

// ReceiptNumber derives a stable human-readable number from the history row ID.
func ReceiptNumber(historyID string) string {
	encoded := hex.EncodeToString([]byte(historyID))
	if len(encoded) > 12 {
		encoded = encoded[:12]
	}
	return strings.ToUpper(encoded)
}

// PaymentPeriod renders the month a payment settles, e.g. "November 2025".
func PaymentPeriod(forMonth, forYear int) string {
	if forMonth < 1 || forMonth > 12 {
		return strconv.Itoa(forYear)
	}
	return fmt.Sprintf("%s %d", time.Month(forMonth).String(), forYear)
}

func parseHistoricalDebt(notes string) (amount float64, details string) {
	m := historicalDebtPattern.FindStringSubmatch(notes)
	if m == nil {
		return 0, ""
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, ""
	}
	return v, m[2]
}
