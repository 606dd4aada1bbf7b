package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Carey99/RentEase-sub000/internal/daraja"
	"github.com/Carey99/RentEase-sub000/pkg/logging"
	"github.com/Carey99/RentEase-sub000/pkg/models"
)

var callbackAccepted = CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}

// HandleDarajaCallback processes STK result callbacks from Daraja. Every
// payload is logged before any intent mutation, and the response is always
// HTTP 200 so Daraja does not retry; the only exception is an envelope
// without an stkCallback body, which is rejected as malformed.
func HandleDarajaCallback(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusOK, callbackAccepted)
		return
	}

	var envelope DarajaCallbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Body.StkCallback == nil {
		countCallback("malformed")
		appendCallbackLog("", "", models.CallbackLogInvalidCode, "unparseable callback payload", raw)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing stkCallback body"})
		return
	}

	cb := envelope.Body.StkCallback
	appendCallbackLog(cb.MerchantRequestID, cb.CheckoutRequestID, cb.ResultCode, cb.ResultDesc, raw)

	intent, err := findIntentByCheckout(cb.CheckoutRequestID)
	if errors.Is(err, sql.ErrNoRows) {
		countCallback("unknown_intent")
		logger.WithField("checkout_request_id", cb.CheckoutRequestID).Warn("Callback for unknown payment intent")
		c.JSON(http.StatusOK, callbackAccepted)
		return
	}
	if err != nil {
		logger.WithError(err).WithField("checkout_request_id", cb.CheckoutRequestID).Error("Failed to load intent for callback")
		c.JSON(http.StatusOK, callbackAccepted)
		return
	}

	if cb.ResultCode == daraja.ResultCodeSuccess {
		processSuccessCallback(intent, cb)
	} else {
		processFailureCallback(intent, cb)
	}

	c.JSON(http.StatusOK, callbackAccepted)
}

// HandleDarajaTimeout is the queue-timeout route. The envelope shape matches
// the callback; the intent moves to timeout regardless of the carried code.
func HandleDarajaTimeout(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusOK, callbackAccepted)
		return
	}

	var envelope DarajaCallbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Body.StkCallback == nil {
		countCallback("malformed")
		appendCallbackLog("", "", models.CallbackLogInvalidCode, "unparseable timeout payload", raw)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing stkCallback body"})
		return
	}

	cb := envelope.Body.StkCallback
	timeoutCode := daraja.ResultCodeTimeout
	appendCallbackLog(cb.MerchantRequestID, cb.CheckoutRequestID, timeoutCode, "Request timed out waiting for PIN entry", raw)

	intent, err := findIntentByCheckout(cb.CheckoutRequestID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.WithError(err).WithField("checkout_request_id", cb.CheckoutRequestID).Error("Failed to load intent for timeout")
		}
		c.JSON(http.StatusOK, callbackAccepted)
		return
	}

	transitioned, err := transitionTerminal(intent.ID, models.IntentStatusTimeout,
		&timeoutCode, "Request timed out waiting for PIN entry", "", true)
	if err != nil {
		logger.WithError(err).WithField("intent_id", intent.ID).Error("Failed to transition intent to timeout")
	}
	if transitioned {
		countCallback("timeout")
		go logActivity("tenant", intent.TenantID, "payment_failed",
			fmt.Sprintf("M-Pesa payment of KSH %.2f timed out", intent.Amount),
			map[string]interface{}{"intent_id": intent.ID})
	}

	c.JSON(http.StatusOK, callbackAccepted)
}

func processSuccessCallback(intent *models.PaymentIntent, cb *StkCallback) {
	receipt, txnDate, amount, payerPhone := extractCallbackMetadata(cb.CallbackMetadata)

	code := cb.ResultCode
	transitioned, err := transitionTerminal(intent.ID, models.IntentStatusSuccess, &code, cb.ResultDesc, receipt, true)
	if err != nil {
		logger.WithError(err).WithField("intent_id", intent.ID).Error("Failed to transition intent to success")
		return
	}
	if !transitioned {
		countCallback("replay")
		return
	}
	countCallback("success")

	logger.WithFields(logging.Fields{
		"intent_id":   intent.ID,
		"receipt":     receipt,
		"amount":      amount,
		"payer_phone": payerPhone,
		"tenant_id":   intent.TenantID,
		"landlord_id": intent.LandlordID,
	}).Info("M-Pesa payment confirmed")

	if err := materializePayment(intent, receipt, txnDate); err != nil {
		logger.WithError(err).WithField("intent_id", intent.ID).Error("Failed to record payment history")
	}

	go logActivity("landlord", intent.LandlordID, "payment_received",
		fmt.Sprintf("Received KSH %.2f via M-Pesa (%s)", intent.Amount, receipt),
		map[string]interface{}{"intent_id": intent.ID, "tenant_id": intent.TenantID, "receipt": receipt})
	go logActivity("tenant", intent.TenantID, "payment_processed",
		fmt.Sprintf("M-Pesa payment of KSH %.2f processed (%s)", intent.Amount, receipt),
		map[string]interface{}{"intent_id": intent.ID, "receipt": receipt})
	go sendPaymentReceivedEmail(intent, receipt, txnDate)
}

func processFailureCallback(intent *models.PaymentIntent, cb *StkCallback) {
	code := cb.ResultCode
	desc := cb.ResultDesc
	if desc == "" {
		desc = daraja.DescribeResultCode(code)
	}

	transitioned, err := transitionTerminal(intent.ID, models.IntentStatusFailed, &code, desc, "", true)
	if err != nil {
		logger.WithError(err).WithField("intent_id", intent.ID).Error("Failed to transition intent to failed")
		return
	}
	if !transitioned {
		countCallback("replay")
		return
	}
	countCallback("failed")

	logger.WithFields(logging.Fields{
		"intent_id":   intent.ID,
		"result_code": code,
		"result_desc": desc,
	}).Info("M-Pesa payment failed")

	go logActivity("tenant", intent.TenantID, "payment_failed",
		fmt.Sprintf("M-Pesa payment of KSH %.2f failed: %s", intent.Amount, daraja.DescribeResultCode(code)),
		map[string]interface{}{"intent_id": intent.ID, "result_code": code})
}

// materializePayment records the settled payment. A bill-linked intent
// completes the existing history row; otherwise a fresh row is derived from
// the tenant snapshot. The partial unique index on intent_id absorbs races.
func materializePayment(intent *models.PaymentIntent, receipt string, txnDate time.Time) error {
	if intent.BillID != "" {
		_, err := db.Exec(`
			UPDATE rentease.payment_history
			SET status = 'completed',
			    payment_method = 'mpesa',
			    transaction_id = $2,
			    intent_id = $3,
			    payment_date = $4,
			    notes = TRIM(BOTH ' ' FROM notes || ' M-Pesa payment: ' || $2)
			WHERE id = $1 AND status <> 'completed'
		`, intent.BillID, receipt, intent.ID, txnDate)
		return err
	}

	tenant, err := getTenant(intent.TenantID, intent.LandlordID)
	if err != nil {
		return fmt.Errorf("load tenant snapshot: %w", err)
	}

	now := time.Now()
	_, err = db.Exec(`
		INSERT INTO rentease.payment_history (
			id, tenant_id, landlord_id, property_id, amount, payment_date,
			for_month, for_year, monthly_rent, payment_method, status, notes,
			utility_charges, total_utility_cost, transaction_id, intent_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'mpesa', 'completed', $10, '[]', 0, $11, $12, NOW())
		ON CONFLICT (intent_id) WHERE intent_id <> '' DO NOTHING
	`, uuid.New().String(), intent.TenantID, intent.LandlordID, tenant.PropertyID,
		intent.Amount, txnDate, int(now.Month()), now.Year(), tenant.RentAmount,
		"M-Pesa payment: "+receipt, receipt, intent.ID)
	return err
}

// extractCallbackMetadata pulls the success-path fields out of the item list.
// Values arrive as strings or numbers depending on the field.
func extractCallbackMetadata(meta *CallbackMetadata) (receipt string, txnDate time.Time, amount float64, payerPhone string) {
	txnDate = time.Now()
	if meta == nil {
		return
	}
	for _, item := range meta.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			receipt = itemString(item.Value)
		case "TransactionDate":
			if t, err := time.ParseInLocation("20060102150405", itemString(item.Value), time.Local); err == nil {
				txnDate = t
			}
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				amount = v
			}
		case "PhoneNumber":
			payerPhone = itemString(item.Value)
		}
	}
	return
}

func itemString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// appendCallbackLog writes the audit row. It must run before any intent
// mutation so the trail survives a crash mid-callback.
func appendCallbackLog(merchantRequestID, checkoutRequestID string, resultCode int, resultDesc string, raw []byte) {
	_, err := db.Exec(`
		INSERT INTO rentease.callback_logs (
			id, merchant_request_id, checkout_request_id, result_code, result_desc, raw_payload, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, uuid.New().String(), merchantRequestID, checkoutRequestID, resultCode, resultDesc, string(raw))
	if err != nil {
		logger.WithError(err).WithField("checkout_request_id", checkoutRequestID).Error("Failed to append callback log")
	}
}
