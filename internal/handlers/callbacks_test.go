package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Carey99/RentEase-sub000/pkg/crypto"
)

func setupHandlerTest(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db = mockDB
	logger = logrus.New()
	metrics = nil
	emailService = NewEmailService(logger)
	enc, err := crypto.NewFieldEncryptor([]byte("handler-test-master-secret"), "daraja-credentials")
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	encryptor = enc

	// The DB stays assigned after close so stray async writes fail with
	// "database is closed" instead of a nil dereference.
	t.Cleanup(func() { mockDB.Close() })
	return mock
}

func postJSON(handler gin.HandlerFunc, path, route string, body []byte) *httptest.ResponseRecorder {
	router := gin.New()
	router.POST(route, handler)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func intentColumns() []string {
	return []string{
		"id", "landlord_id", "tenant_id", "bill_id", "amount", "phone_number",
		"payment_reference", "account_reference", "transaction_desc",
		"business_short_code", "business_type", "status",
		"merchant_request_id", "checkout_request_id", "transaction_id",
		"result_code", "result_desc", "callback_received",
		"expires_at", "completed_at", "created_at",
	}
}

func pendingIntentRow(checkoutRequestID string, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(intentColumns()).AddRow(
		"intent-1", "landlord-1", "tenant-1", "", 20000.0, "254712345678",
		"RE-202511-L001-T001-ABC123", "GREE-A12-NOV", "Rent-Green-NOV",
		"174379", "paybill", "pending",
		"mr-1", checkoutRequestID, "",
		nil, "", false,
		expiresAt, nil, time.Now().Add(-time.Minute),
	)
}

func successCallbackBody(checkoutRequestID string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"Body": map[string]interface{}{
			"stkCallback": map[string]interface{}{
				"MerchantRequestID": "mr-1",
				"CheckoutRequestID": checkoutRequestID,
				"ResultCode":        0,
				"ResultDesc":        "The service request is processed successfully.",
				"CallbackMetadata": map[string]interface{}{
					"Item": []map[string]interface{}{
						{"Name": "Amount", "Value": 20000},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "TransactionDate", "Value": 20251102210535},
						{"Name": "PhoneNumber", "Value": 254712345678},
					},
				},
			},
		},
	})
	return body
}

func TestCallbackSuccessCreatesPayment(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectExec("INSERT INTO rentease.callback_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM rentease.payment_intents").
		WithArgs("X1").
		WillReturnRows(pendingIntentRow("X1", time.Now().Add(time.Minute)))
	mock.ExpectExec("UPDATE rentease.payment_intents").
		WithArgs("intent-1", "success", 0, "The service request is processed successfully.", "NLJ7RT61SV", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM rentease.tenants").
		WithArgs("tenant-1", "landlord-1").
		WillReturnRows(tenantRow())
	mock.ExpectExec("INSERT INTO rentease.payment_history").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(HandleDarajaCallback, "/api/daraja/callback", "/api/daraja/callback", successCallbackBody("X1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var ack CallbackAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack.ResultCode != 0 || ack.ResultDesc != "Accepted" {
		t.Errorf("ack = %+v", ack)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCallbackReplayIsNoOp(t *testing.T) {
	mock := setupHandlerTest(t)

	// Intent already terminal; only the audit row and the failed CAS run.
	terminalRow := sqlmock.NewRows(intentColumns()).AddRow(
		"intent-1", "landlord-1", "tenant-1", "", 20000.0, "254712345678",
		"RE-202511-L001-T001-ABC123", "GREE-A12-NOV", "Rent-Green-NOV",
		"174379", "paybill", "success",
		"mr-1", "X1", "NLJ7RT61SV",
		0, "The service request is processed successfully.", true,
		time.Now().Add(-time.Minute), time.Now(), time.Now().Add(-2*time.Minute),
	)

	mock.ExpectExec("INSERT INTO rentease.callback_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM rentease.payment_intents").
		WithArgs("X1").
		WillReturnRows(terminalRow)
	mock.ExpectExec("UPDATE rentease.payment_intents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := postJSON(HandleDarajaCallback, "/api/daraja/callback", "/api/daraja/callback", successCallbackBody("X1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCallbackUserCancelFailsIntent(t *testing.T) {
	mock := setupHandlerTest(t)

	body, _ := json.Marshal(map[string]interface{}{
		"Body": map[string]interface{}{
			"stkCallback": map[string]interface{}{
				"MerchantRequestID": "mr-1",
				"CheckoutRequestID": "X1",
				"ResultCode":        1032,
				"ResultDesc":        "Request cancelled by user",
			},
		},
	})

	mock.ExpectExec("INSERT INTO rentease.callback_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM rentease.payment_intents").
		WithArgs("X1").
		WillReturnRows(pendingIntentRow("X1", time.Now().Add(time.Minute)))
	mock.ExpectExec("UPDATE rentease.payment_intents").
		WithArgs("intent-1", "failed", 1032, "Request cancelled by user", "", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(HandleDarajaCallback, "/api/daraja/callback", "/api/daraja/callback", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCallbackUnknownIntentAcknowledged(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectExec("INSERT INTO rentease.callback_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM rentease.payment_intents").
		WithArgs("unknown").
		WillReturnRows(sqlmock.NewRows(intentColumns()))

	w := postJSON(HandleDarajaCallback, "/api/daraja/callback", "/api/daraja/callback", successCallbackBody("unknown"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCallbackMissingBodyRejected(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectExec("INSERT INTO rentease.callback_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(HandleDarajaCallback, "/api/daraja/callback", "/api/daraja/callback", []byte(`{"Body":{}}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimeoutRouteTransitionsIntent(t *testing.T) {
	mock := setupHandlerTest(t)

	body, _ := json.Marshal(map[string]interface{}{
		"Body": map[string]interface{}{
			"stkCallback": map[string]interface{}{
				"MerchantRequestID": "mr-1",
				"CheckoutRequestID": "X1",
				"ResultCode":        1037,
				"ResultDesc":        "DS timeout",
			},
		},
	})

	mock.ExpectExec("INSERT INTO rentease.callback_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM rentease.payment_intents").
		WithArgs("X1").
		WillReturnRows(pendingIntentRow("X1", time.Now().Add(-time.Minute)))
	mock.ExpectExec("UPDATE rentease.payment_intents").
		WithArgs("intent-1", "timeout", 1037, "Request timed out waiting for PIN entry", "", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(HandleDarajaTimeout, "/api/daraja/timeout", "/api/daraja/timeout", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
