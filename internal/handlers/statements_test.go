package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
)

func TestUploadStatementIngestsMatches(t *testing.T) {
	mock := setupHandlerTest(t)

	rawText := strings.Join([]string{
		"TK2RJ91M5Z 2025-11-02 21:05:35 Customer Transfer Completed 80.00 0.00",
		"to - 07******892 mary muchina",
	}, "\n")
	body, _ := json.Marshal(StatementUploadRequest{
		FileName: "statement-nov.pdf",
		RawText:  rawText,
	})

	mock.ExpectQuery("SELECT (.+) FROM rentease.tenants").
		WithArgs("landlord-1").
		WillReturnRows(tenantRow())
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rentease.statements").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO rentease.transaction_matches").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	router := authedRouter(func(r *gin.Engine) {
		r.POST("/api/mpesa/statements", UploadStatement)
	})
	req := httptest.NewRequest(http.MethodPost, "/api/mpesa/statements", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	var resp StatementUploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Statement.TotalTransactions != 1 || resp.Statement.MatchedTransactions != 1 {
		t.Errorf("statement counts = %d/%d, want 1/1",
			resp.Statement.TotalTransactions, resp.Statement.MatchedTransactions)
	}
	if resp.Statement.Status != "in_review" {
		t.Errorf("status = %q, want in_review", resp.Statement.Status)
	}
	if resp.Summary.TotalAmount != 80 {
		t.Errorf("summary total = %v, want 80", resp.Summary.TotalAmount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUploadStatementEmptyText(t *testing.T) {
	mock := setupHandlerTest(t)

	body, _ := json.Marshal(StatementUploadRequest{
		FileName: "empty.pdf",
		RawText:  "M-PESA STATEMENT\nno transactions here\n",
	})

	mock.ExpectQuery("SELECT (.+) FROM rentease.tenants").
		WithArgs("landlord-1").
		WillReturnRows(tenantRow())
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rentease.statements").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	router := authedRouter(func(r *gin.Engine) {
		r.POST("/api/mpesa/statements", UploadStatement)
	})
	req := httptest.NewRequest(http.MethodPost, "/api/mpesa/statements", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var resp StatementUploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Statement.Status != "uploaded" || resp.Statement.TotalTransactions != 0 {
		t.Errorf("statement = %+v", resp.Statement)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetStatementWithMatches(t *testing.T) {
	mock := setupHandlerTest(t)

	uploaded := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM rentease.statements").
		WithArgs("stmt-1", "landlord-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "landlord_id", "file_name", "upload_date", "period_start",
			"period_end", "total_transactions", "matched_transactions", "status",
		}).AddRow("stmt-1", "landlord-1", "statement-nov.pdf", uploaded, nil, nil, 1, 1, "in_review"))
	mock.ExpectQuery("SELECT (.+) FROM rentease.transaction_matches").
		WithArgs("stmt-1").
		WillReturnRows(pendingMatchRow(matchedTenantJSON))

	router := authedRouter(func(r *gin.Engine) {
		r.GET("/api/mpesa/statements/:id", GetStatement)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/mpesa/statements/stmt-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp struct {
		Matches []struct {
			Transaction struct {
				ReceiptNo string `json:"receipt_no"`
			} `json:"transaction"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].Transaction.ReceiptNo != "TK2RJ91M5Z" {
		t.Errorf("matches = %+v", resp.Matches)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteStatement(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectExec("UPDATE rentease.statements").
		WithArgs("stmt-1", "landlord-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := authedRouter(func(r *gin.Engine) {
		r.DELETE("/api/mpesa/statements/:id", DeleteStatement)
	})
	req := httptest.NewRequest(http.MethodDelete, "/api/mpesa/statements/stmt-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteStatementNotFound(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectExec("UPDATE rentease.statements").
		WithArgs("stmt-9", "landlord-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	router := authedRouter(func(r *gin.Engine) {
		r.DELETE("/api/mpesa/statements/:id", DeleteStatement)
	})
	req := httptest.NewRequest(http.MethodDelete, "/api/mpesa/statements/stmt-9", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
