package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Carey99/RentEase-sub000/pkg/auth"
	"github.com/Carey99/RentEase-sub000/pkg/logging"
	"github.com/Carey99/RentEase-sub000/pkg/models"
)

// ApproveMatch confirms a reviewed match and records the payment. Approving
// an already-terminal match is a no-op; approving without a matched tenant is
// rejected.
func ApproveMatch(c *gin.Context) {
	landlordID := auth.LandlordFromContext(c)
	matchID := c.Param("id")

	// Notes body is optional.
	var req MatchReviewRequest
	_ = c.ShouldBindJSON(&req)

	m, err := loadMatch(matchID, landlordID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "match not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("match_id", matchID).Error("Failed to load match")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load match"})
		return
	}

	if m.Terminal() {
		c.JSON(http.StatusOK, gin.H{"match": m})
		return
	}
	if m.MatchedTenant == nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "cannot approve a match without a matched tenant"})
		return
	}

	transitioned, err := transitionMatch(matchID, models.MatchStatusApproved, req.Notes)
	if err != nil {
		logger.WithError(err).WithField("match_id", matchID).Error("Failed to approve match")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to approve match"})
		return
	}
	if !transitioned {
		// Lost the race to another reviewer; return the current state.
		if m, err = loadMatch(matchID, landlordID); err == nil {
			c.JSON(http.StatusOK, gin.H{"match": m})
		} else {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "match already reviewed"})
		}
		return
	}

	payment, err := recordMatchedPayment(landlordID, m, req.Notes)
	if err != nil {
		logger.WithError(err).WithField("match_id", matchID).Error("Failed to record payment for approved match")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "match approved but payment could not be recorded"})
		return
	}

	countMatchReview("approve")
	refreshStatementStatus(m.StatementID)
	logger.WithFields(logging.Fields{
		"landlord_id": landlordID,
		"match_id":    matchID,
		"tenant_id":   m.MatchedTenant.TenantID,
		"amount":      m.Transaction.Amount,
	}).Info("Transaction match approved")

	m.Status = models.MatchStatusApproved
	m.ReviewNotes = req.Notes
	c.JSON(http.StatusOK, gin.H{"match": m, "payment": payment})
}

// RejectMatch marks a match rejected. Idempotent on terminal matches.
func RejectMatch(c *gin.Context) {
	landlordID := auth.LandlordFromContext(c)
	matchID := c.Param("id")

	var req MatchReviewRequest
	_ = c.ShouldBindJSON(&req)

	m, err := loadMatch(matchID, landlordID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "match not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("match_id", matchID).Error("Failed to load match")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load match"})
		return
	}
	if m.Terminal() {
		c.JSON(http.StatusOK, gin.H{"match": m})
		return
	}

	if _, err := transitionMatch(matchID, models.MatchStatusRejected, req.Notes); err != nil {
		logger.WithError(err).WithField("match_id", matchID).Error("Failed to reject match")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to reject match"})
		return
	}

	countMatchReview("reject")
	refreshStatementStatus(m.StatementID)
	m.Status = models.MatchStatusRejected
	m.ReviewNotes = req.Notes
	c.JSON(http.StatusOK, gin.H{"match": m})
}

// ManualMatch rebinds a transaction to an explicitly chosen tenant. The
// tenant must belong to the same landlord; the rebound match stays
// approvable.
func ManualMatch(c *gin.Context) {
	landlordID := auth.LandlordFromContext(c)
	matchID := c.Param("id")

	var req ManualMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	m, err := loadMatch(matchID, landlordID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "match not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("match_id", matchID).Error("Failed to load match")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load match"})
		return
	}
	if m.Terminal() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "match already reviewed"})
		return
	}

	tenant, err := getTenant(req.TenantID, landlordID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "tenant not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("tenant_id", req.TenantID).Error("Failed to load tenant for manual match")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load tenant"})
		return
	}

	// Manual choice carries no synthesized scores; the reviewer's judgment
	// replaces the engine's.
	chosen := models.TenantMatch{
		TenantID:   tenant.ID,
		TenantName: tenant.FullName,
		RentAmount: tenant.RentAmount,
	}
	payload, err := json.Marshal(chosen)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to encode tenant"})
		return
	}

	result, err := db.Exec(`
		UPDATE rentease.transaction_matches
		SET matched_tenant = $2, outcome = 'matched', status = 'manual', reviewed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'manual')
	`, matchID, string(payload))
	if err != nil {
		logger.WithError(err).WithField("match_id", matchID).Error("Failed to rebind match")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to rebind match"})
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "match already reviewed"})
		return
	}

	countMatchReview("manual")
	if m.Outcome == models.MatchOutcomeNoMatch {
		// The engine had given up on this transaction; the statement's
		// matched count grows by the reviewer's rebind.
		if _, err := db.Exec(`
			UPDATE rentease.statements
			SET matched_transactions = matched_transactions + 1
			WHERE id = $1
		`, m.StatementID); err != nil {
			logger.WithError(err).WithField("statement_id", m.StatementID).Error("Failed to bump matched transaction count")
		}
	}
	m.MatchedTenant = &chosen
	m.Outcome = models.MatchOutcomeMatched
	m.Status = models.MatchStatusManual
	c.JSON(http.StatusOK, gin.H{"match": m})
}

// refreshStatementStatus flips a statement to approved once none of its
// matches remain reviewable. Best-effort; review responses do not depend on it.
func refreshStatementStatus(statementID string) {
	_, err := db.Exec(`
		UPDATE rentease.statements
		SET status = 'approved'
		WHERE id = $1 AND status = 'in_review'
		  AND NOT EXISTS (
			SELECT 1 FROM rentease.transaction_matches
			WHERE statement_id = $1 AND status IN ('pending', 'manual')
		  )
	`, statementID)
	if err != nil {
		logger.WithError(err).WithField("statement_id", statementID).Error("Failed to refresh statement status")
	}
}

func loadMatch(matchID, landlordID string) (*models.TransactionMatch, error) {
	row := db.QueryRow(`
		SELECT tm.id, tm.statement_id, tm.transaction_data, tm.matched_tenant,
		       tm.alternative_matches, tm.outcome, tm.status, tm.review_notes,
		       tm.reviewed_at, tm.created_at
		FROM rentease.transaction_matches tm
		JOIN rentease.statements s ON s.id = tm.statement_id
		WHERE tm.id = $1 AND s.landlord_id = $2 AND s.status <> 'deleted'
	`, matchID, landlordID)
	return scanMatch(row)
}

// transitionMatch is the CAS for review actions; only pending and manual
// matches can move.
func transitionMatch(matchID, newStatus, notes string) (bool, error) {
	result, err := db.Exec(`
		UPDATE rentease.transaction_matches
		SET status = $2, review_notes = $3, reviewed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'manual')
	`, matchID, newStatus, notes)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows == 1, err
}

func recordMatchedPayment(landlordID string, m *models.TransactionMatch, notes string) (*models.PaymentHistory, error) {
	tenant, err := getTenant(m.MatchedTenant.TenantID, landlordID)
	if err != nil {
		return nil, err
	}

	paymentDate := m.Transaction.CompletionTime
	if paymentDate.IsZero() {
		paymentDate = time.Now()
	}
	fullNotes := "M-Pesa statement payment: " + m.Transaction.ReceiptNo
	if notes != "" {
		fullNotes += ". " + notes
	}

	payment := models.PaymentHistory{
		ID:            uuid.New().String(),
		TenantID:      tenant.ID,
		LandlordID:    landlordID,
		PropertyID:    tenant.PropertyID,
		Amount:        m.Transaction.Amount,
		PaymentDate:   paymentDate,
		ForMonth:      int(paymentDate.Month()),
		ForYear:       paymentDate.Year(),
		MonthlyRent:   tenant.RentAmount,
		PaymentMethod: models.PaymentMethodMpesa,
		Status:        models.PaymentStatusCompleted,
		Notes:         fullNotes,
		TransactionID: m.Transaction.ReceiptNo,
		CreatedAt:     time.Now(),
	}

	_, err = db.Exec(`
		INSERT INTO rentease.payment_history (
			id, tenant_id, landlord_id, property_id, amount, payment_date,
			for_month, for_year, monthly_rent, payment_method, status, notes,
			utility_charges, total_utility_cost, transaction_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '[]', 0, $13, $14)
	`, payment.ID, payment.TenantID, payment.LandlordID, payment.PropertyID,
		payment.Amount, payment.PaymentDate, payment.ForMonth, payment.ForYear,
		payment.MonthlyRent, payment.PaymentMethod, payment.Status,
		payment.Notes, payment.TransactionID, payment.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
