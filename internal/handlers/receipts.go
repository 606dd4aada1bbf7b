package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Carey99/RentEase-sub000/internal/receipts"
	"github.com/Carey99/RentEase-sub000/pkg/auth"
	"github.com/Carey99/RentEase-sub000/pkg/config"
	"github.com/Carey99/RentEase-sub000/pkg/models"
)

var pdfSinkClient = &http.Client{Timeout: 30 * time.Second}

// GetPaymentReceipt assembles the receipt for a completed payment and hands
// it to the external PDF sink, streaming the rendered document back. Without
// a configured sink the receipt record itself is returned.
func GetPaymentReceipt(c *gin.Context) {
	landlordID := auth.LandlordFromContext(c)
	paymentID := c.Param("paymentId")

	history, err := loadPaymentHistory(paymentID, landlordID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "payment not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to load payment")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load payment"})
		return
	}

	tenant, err := getTenant(history.TenantID, landlordID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		logger.WithError(err).WithField("tenant_id", history.TenantID).Error("Failed to load tenant for receipt")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load tenant"})
		return
	}

	receipt, err := receipts.Assemble(history, tenant)
	if err != nil {
		if errors.Is(err, receipts.ErrNotCompleted) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "receipt available only for completed payments"})
			return
		}
		logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to assemble receipt")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to assemble receipt"})
		return
	}

	sinkURL := config.GetEnv("PDF_SINK_URL", "")
	if sinkURL == "" {
		c.JSON(http.StatusOK, gin.H{"receipt": receipt})
		return
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to encode receipt"})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, sinkURL, bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to contact PDF sink"})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := pdfSinkClient.Do(req)
	if err != nil {
		logger.WithError(err).WithField("payment_id", paymentID).Error("PDF sink request failed")
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "PDF rendering failed", Retryable: true})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.WithField("status", resp.StatusCode).Error("PDF sink returned an error")
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "PDF rendering failed", Retryable: true})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="receipt-`+receipt.ReceiptNumber+`.pdf"`)
	c.DataFromReader(http.StatusOK, resp.ContentLength, "application/pdf", resp.Body, nil)
}

func loadPaymentHistory(paymentID, landlordID string) (*models.PaymentHistory, error) {
	var h models.PaymentHistory
	err := db.QueryRow(`
		SELECT id, tenant_id, landlord_id, property_id, amount, payment_date,
		       for_month, for_year, monthly_rent, payment_method, status, notes,
		       utility_charges, total_utility_cost, transaction_id, intent_id, created_at
		FROM rentease.payment_history
		WHERE id = $1 AND landlord_id = $2
	`, paymentID, landlordID).Scan(
		&h.ID, &h.TenantID, &h.LandlordID, &h.PropertyID, &h.Amount,
		&h.PaymentDate, &h.ForMonth, &h.ForYear, &h.MonthlyRent,
		&h.PaymentMethod, &h.Status, &h.Notes, &h.UtilityCharges,
		&h.TotalUtilityCost, &h.TransactionID, &h.IntentID, &h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}
