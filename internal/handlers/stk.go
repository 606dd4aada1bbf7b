package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Carey99/RentEase-sub000/internal/daraja"
	"github.com/Carey99/RentEase-sub000/pkg/logging"
	"github.com/Carey99/RentEase-sub000/pkg/models"
	"github.com/Carey99/RentEase-sub000/pkg/phone"
	"github.com/Carey99/RentEase-sub000/pkg/reference"
)

// InitiateSTKPush creates a payment intent and sends the STK prompt to the
// tenant's phone. The caller gets back the checkout request ID for polling;
// the terminal status arrives via the Daraja callback.
func InitiateSTKPush(c *gin.Context) {
	var req STKPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, STKPushResponse{Error: err.Error()})
		return
	}

	msisdn := phone.Normalize(req.Phone)
	if msisdn == "" {
		countSTKPush("invalid_phone")
		c.JSON(http.StatusBadRequest, STKPushResponse{Error: "invalid phone number"})
		return
	}

	creds, err := loadDarajaCredentials(req.LandlordID)
	if err != nil {
		if errors.Is(err, daraja.ErrGatewayNotConfigured) {
			countSTKPush("not_configured")
			c.JSON(http.StatusConflict, STKPushResponse{Error: "M-Pesa gateway not configured"})
			return
		}
		logger.WithError(err).WithField("landlord_id", req.LandlordID).Error("Failed to load Daraja credentials")
		c.JSON(http.StatusInternalServerError, STKPushResponse{Error: "failed to load gateway configuration"})
		return
	}

	tenant, err := getTenant(req.TenantID, req.LandlordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, STKPushResponse{Error: "tenant not found"})
			return
		}
		logger.WithError(err).WithField("tenant_id", req.TenantID).Error("Failed to load tenant")
		c.JSON(http.StatusInternalServerError, STKPushResponse{Error: "failed to load tenant"})
		return
	}

	now := time.Now()
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = reference.IdempotencyKey(req.LandlordID, req.TenantID, req.BillID, now.UnixMilli())
	}

	intent := models.PaymentIntent{
		ID:                uuid.New().String(),
		LandlordID:        req.LandlordID,
		TenantID:          req.TenantID,
		BillID:            req.BillID,
		Amount:            req.Amount,
		PhoneNumber:       msisdn,
		PaymentReference:  reference.PaymentReference(req.LandlordID, req.TenantID, now),
		AccountReference:  reference.AccountReference(req.TenantID, tenant.PropertyName, tenant.UnitLabel, now),
		TransactionDesc:   reference.TransactionDesc(tenant.PropertyName, now),
		BusinessShortCode: creds.BusinessShortCode,
		BusinessType:      creds.BusinessType,
		Status:            models.IntentStatusPending,
		IdempotencyKey:    idempotencyKey,
		ExpiresAt:         now.Add(models.IntentExpiry),
		CreatedAt:         now,
	}
	inserted, err := createIntent(&intent)
	if err != nil {
		logger.WithError(err).WithField("landlord_id", req.LandlordID).Error("Failed to create payment intent")
		c.JSON(http.StatusInternalServerError, STKPushResponse{Error: "failed to create payment intent"})
		return
	}
	if !inserted {
		// Re-post of an initiation already in flight; hand back the existing
		// intent instead of pushing a second prompt.
		existing, err := findIntentByIdempotencyKey(idempotencyKey)
		if err != nil {
			logger.WithError(err).WithField("landlord_id", req.LandlordID).Error("Failed to load replayed payment intent")
			c.JSON(http.StatusInternalServerError, STKPushResponse{Error: "failed to load payment intent"})
			return
		}
		countSTKPush("replayed")
		logger.WithFields(logging.Fields{
			"intent_id":           existing.ID,
			"landlord_id":         req.LandlordID,
			"checkout_request_id": existing.CheckoutRequestID,
		}).Info("STK initiation replayed, returning existing intent")
		c.JSON(http.StatusOK, STKPushResponse{
			Success:           true,
			CheckoutRequestID: existing.CheckoutRequestID,
			MerchantRequestID: existing.MerchantRequestID,
			PaymentReference:  existing.PaymentReference,
		})
		return
	}

	pushStart := time.Now()
	resp, err := darajaClient.InitiateSTKPush(c.Request.Context(), creds, daraja.STKPushRequest{
		PhoneNumber:      msisdn,
		Amount:           req.Amount,
		AccountReference: intent.AccountReference,
		TransactionDesc:  intent.TransactionDesc,
	})
	observeDarajaDuration("stk_push", pushStart)
	if err != nil {
		failIntent(intent.ID, err)
		status, body := mapDarajaError(err)
		countSTKPush("rejected")
		c.JSON(status, body)
		return
	}

	if _, err := db.Exec(`
		UPDATE rentease.payment_intents
		SET merchant_request_id = $2, checkout_request_id = $3
		WHERE id = $1
	`, intent.ID, resp.MerchantRequestID, resp.CheckoutRequestID); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"intent_id":           intent.ID,
			"checkout_request_id": resp.CheckoutRequestID,
		}).Error("Failed to attach checkout request ID to intent")
	}

	countSTKPush("accepted")
	logger.WithFields(logging.Fields{
		"intent_id":           intent.ID,
		"landlord_id":         req.LandlordID,
		"tenant_id":           req.TenantID,
		"checkout_request_id": resp.CheckoutRequestID,
		"amount":              req.Amount,
	}).Info("STK push initiated")

	c.JSON(http.StatusOK, STKPushResponse{
		Success:           true,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		PaymentReference:  intent.PaymentReference,
		CustomerMessage:   resp.CustomerMessage,
	})
}

// GetSTKStatus returns the intent snapshot for a checkout request. A pending
// intent past its expiry is reclaimed to timeout on read.
func GetSTKStatus(c *gin.Context) {
	checkoutRequestID := c.Param("checkoutRequestID")

	intent, err := findIntentByCheckout(checkoutRequestID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "payment intent not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("checkout_request_id", checkoutRequestID).Error("Failed to load payment intent")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load payment intent"})
		return
	}

	if intent.Expired(time.Now()) {
		timeoutCode := daraja.ResultCodeTimeout
		transitioned, err := transitionTerminal(intent.ID, models.IntentStatusTimeout,
			&timeoutCode, "Request timed out waiting for PIN entry", "", false)
		if err != nil {
			logger.WithError(err).WithField("intent_id", intent.ID).Error("Failed to reclaim expired intent")
		} else if transitioned {
			code := daraja.ResultCodeTimeout
			intent.Status = models.IntentStatusTimeout
			intent.ResultCode = &code
			intent.ResultDesc = "Request timed out waiting for PIN entry"
		}
	}

	c.JSON(http.StatusOK, intent)
}

// createIntent inserts a pending intent. The idempotency index absorbs a
// re-posted initiation; inserted is false when the key already exists.
func createIntent(intent *models.PaymentIntent) (bool, error) {
	result, err := db.Exec(`
		INSERT INTO rentease.payment_intents (
			id, landlord_id, tenant_id, bill_id, amount, phone_number,
			payment_reference, account_reference, transaction_desc,
			business_short_code, business_type, status, idempotency_key,
			expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (idempotency_key) WHERE idempotency_key <> '' DO NOTHING
	`, intent.ID, intent.LandlordID, intent.TenantID, intent.BillID, intent.Amount,
		intent.PhoneNumber, intent.PaymentReference, intent.AccountReference,
		intent.TransactionDesc, intent.BusinessShortCode, intent.BusinessType,
		intent.Status, intent.IdempotencyKey, intent.ExpiresAt, intent.CreatedAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows == 1, err
}

const intentSelect = `
	SELECT id, landlord_id, tenant_id, bill_id, amount, phone_number,
	       payment_reference, account_reference, transaction_desc,
	       business_short_code, business_type, status,
	       merchant_request_id, checkout_request_id, transaction_id,
	       result_code, result_desc, callback_received,
	       expires_at, completed_at, created_at
	FROM rentease.payment_intents
`

func findIntentByCheckout(checkoutRequestID string) (*models.PaymentIntent, error) {
	return scanIntent(db.QueryRow(intentSelect+`WHERE checkout_request_id = $1`, checkoutRequestID))
}

func findIntentByIdempotencyKey(key string) (*models.PaymentIntent, error) {
	return scanIntent(db.QueryRow(intentSelect+`WHERE idempotency_key = $1`, key))
}

func scanIntent(row *sql.Row) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := row.Scan(
		&intent.ID, &intent.LandlordID, &intent.TenantID, &intent.BillID,
		&intent.Amount, &intent.PhoneNumber, &intent.PaymentReference,
		&intent.AccountReference, &intent.TransactionDesc,
		&intent.BusinessShortCode, &intent.BusinessType, &intent.Status,
		&intent.MerchantRequestID, &intent.CheckoutRequestID,
		&intent.TransactionID, &intent.ResultCode, &intent.ResultDesc,
		&intent.CallbackReceived, &intent.ExpiresAt, &intent.CompletedAt,
		&intent.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// transitionTerminal moves a pending intent to a terminal status. It is a
// compare-and-set on status = pending; the first caller wins, later callers
// see transitioned = false. This is the idempotency fence for callback
// redelivery.
func transitionTerminal(intentID, newStatus string, resultCode *int, resultDesc, transactionID string, fromCallback bool) (bool, error) {
	result, err := db.Exec(`
		UPDATE rentease.payment_intents
		SET status = $2,
		    result_code = $3,
		    result_desc = $4,
		    transaction_id = CASE WHEN $5 = '' THEN transaction_id ELSE $5 END,
		    callback_received = callback_received OR $6,
		    completed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, intentID, newStatus, resultCode, resultDesc, transactionID, fromCallback)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		logger.WithFields(logging.Fields{
			"intent_id": intentID,
			"status":    newStatus,
		}).Debug("Terminal transition skipped, intent already terminal")
	}
	return rows == 1, nil
}

// failIntent marks an intent that never reached Daraja. No upstream result
// code exists, so the column stays NULL.
func failIntent(intentID string, cause error) {
	if _, err := transitionTerminal(intentID, models.IntentStatusFailed, nil, cause.Error(), "", false); err != nil {
		logger.WithError(err).WithField("intent_id", intentID).Error("Failed to mark intent failed")
	}
}

func mapDarajaError(err error) (int, STKPushResponse) {
	var rejection *daraja.RejectionError
	switch {
	case errors.Is(err, daraja.ErrInvalidPhone):
		return http.StatusBadRequest, STKPushResponse{Error: "invalid phone number"}
	case errors.Is(err, daraja.ErrTimeout):
		return http.StatusGatewayTimeout, STKPushResponse{Error: "Daraja request timed out", Retryable: true}
	case errors.Is(err, daraja.ErrAuthFailed):
		return http.StatusBadGateway, STKPushResponse{Error: "Daraja authentication failed"}
	case errors.As(err, &rejection):
		return http.StatusBadGateway, STKPushResponse{Error: rejection.Description}
	default:
		return http.StatusBadGateway, STKPushResponse{Error: err.Error()}
	}
}

func getTenant(tenantID, landlordID string) (*models.Tenant, error) {
	var t models.Tenant
	err := db.QueryRow(`
		SELECT id, landlord_id, full_name, phone, email, rent_amount,
		       property_id, property_name, unit_label
		FROM rentease.tenants
		WHERE id = $1 AND landlord_id = $2
	`, tenantID, landlordID).Scan(
		&t.ID, &t.LandlordID, &t.FullName, &t.Phone, &t.Email, &t.RentAmount,
		&t.PropertyID, &t.PropertyName, &t.UnitLabel,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
