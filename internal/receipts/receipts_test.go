package receipts

import (
	"errors"
	"testing"
	"time"

	"github.com/Carey99/RentEase-sub000/pkg/models"
)

func completedHistory() *models.PaymentHistory {
	return &models.PaymentHistory{
		ID:            "ph-7f3a9c01",
		TenantID:      "t-1",
		LandlordID:    "l-1",
		Amount:        22000,
		PaymentDate:   time.Date(2025, 11, 2, 21, 5, 35, 0, time.UTC),
		ForMonth:      11,
		ForYear:       2025,
		MonthlyRent:   20000,
		PaymentMethod: models.PaymentMethodMpesa,
		Status:        models.PaymentStatusCompleted,
		TransactionID: "NLJ7RT61SV",
		UtilityCharges: models.UtilityCharges{
			{Type: "water", UnitsUsed: 4, PricePerUnit: 500, Total: 2000},
		},
		TotalUtilityCost: 2000,
	}
}

func TestAssemble(t *testing.T) {
	tenant := &models.Tenant{
		ID:           "t-1",
		FullName:     "Mary Muchina",
		PropertyName: "Green Court",
		UnitLabel:    "A12",
	}

	r, err := Assemble(completedHistory(), tenant)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if r.ReceiptNumber != "70682D376633" {
		t.Errorf("ReceiptNumber = %q", r.ReceiptNumber)
	}
	if r.PaymentPeriod != "November 2025" {
		t.Errorf("PaymentPeriod = %q, want November 2025", r.PaymentPeriod)
	}
	if r.TenantName != "Mary Muchina" || r.PropertyName != "Green Court" || r.UnitLabel != "A12" {
		t.Errorf("tenant fields = %q / %q / %q", r.TenantName, r.PropertyName, r.UnitLabel)
	}
	if r.CurrentMonthRent != 20000 || r.HistoricalDebt != 0 {
		t.Errorf("rent split = %v / %v, want 20000 / 0", r.CurrentMonthRent, r.HistoricalDebt)
	}
	if r.TotalUtilityCost != 2000 || len(r.UtilityCharges) != 1 {
		t.Errorf("utilities = %v / %d entries", r.TotalUtilityCost, len(r.UtilityCharges))
	}
}

func TestAssembleHistoricalDebt(t *testing.T) {
	h := completedHistory()
	h.Notes = "M-Pesa payment: NLJ7RT61SV. Includes historical debt: KSH 4,500.00 (Oct 2025 balance)"

	r, err := Assemble(h, nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if r.HistoricalDebt != 4500 {
		t.Errorf("HistoricalDebt = %v, want 4500", r.HistoricalDebt)
	}
	if r.HistoricalDebtDetails != "Oct 2025 balance" {
		t.Errorf("HistoricalDebtDetails = %q", r.HistoricalDebtDetails)
	}
	if r.CurrentMonthRent != 15500 {
		t.Errorf("CurrentMonthRent = %v, want 15500", r.CurrentMonthRent)
	}
}

func TestAssembleRejectsIncomplete(t *testing.T) {
	h := completedHistory()
	h.Status = models.PaymentStatusPending

	if _, err := Assemble(h, nil); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("err = %v, want ErrNotCompleted", err)
	}
}

func TestReceiptNumberStable(t *testing.T) {
	a := ReceiptNumber("ph-7f3a9c01")
	b := ReceiptNumber("ph-7f3a9c01")
	if a != b {
		t.Errorf("ReceiptNumber not deterministic: %q vs %q", a, b)
	}
	if len(a) != 12 {
		t.Errorf("len = %d, want 12", len(a))
	}
	if ReceiptNumber("x") == a {
		t.Error("distinct IDs produced the same receipt number")
	}
}
