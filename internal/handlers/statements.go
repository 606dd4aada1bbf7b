package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Carey99/RentEase-sub000/internal/matching"
	"github.com/Carey99/RentEase-sub000/internal/statement"
	"github.com/Carey99/RentEase-sub000/pkg/auth"
	"github.com/Carey99/RentEase-sub000/pkg/logging"
	"github.com/Carey99/RentEase-sub000/pkg/models"
)

// UploadStatement parses statement text, scores every transaction against the
// landlord's tenants and persists the statement with its matches in one
// transaction.
func UploadStatement(c *gin.Context) {
	landlordID := auth.LandlordFromContext(c)

	var req StatementUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	txs := statement.Parse(req.RawText)
	summary := statement.Summarize(txs)

	tenants, err := listTenants(landlordID)
	if err != nil {
		logger.WithError(err).WithField("landlord_id", landlordID).Error("Failed to load tenant snapshot")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load tenants"})
		return
	}

	stmt := models.Statement{
		ID:                uuid.New().String(),
		LandlordID:        landlordID,
		FileName:          req.FileName,
		UploadDate:        time.Now(),
		PeriodStart:       req.PeriodStart,
		PeriodEnd:         req.PeriodEnd,
		TotalTransactions: len(txs),
		Status:            models.StatementStatusUploaded,
	}

	matches := make([]models.TransactionMatch, 0, len(txs))
	for _, tx := range txs {
		m := matching.Match(tx, tenants)
		m.ID = uuid.New().String()
		m.StatementID = stmt.ID
		m.CreatedAt = stmt.UploadDate
		if m.Outcome != models.MatchOutcomeNoMatch {
			stmt.MatchedTransactions++
		}
		matches = append(matches, m)
	}
	if len(txs) > 0 {
		stmt.Status = models.StatementStatusInReview
	}

	if err := persistStatement(&stmt, matches); err != nil {
		logger.WithError(err).WithField("landlord_id", landlordID).Error("Failed to persist statement")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store statement"})
		return
	}

	countStatement(stmt.Status)
	logger.WithFields(logging.Fields{
		"landlord_id":  landlordID,
		"statement_id": stmt.ID,
		"transactions": stmt.TotalTransactions,
		"matched":      stmt.MatchedTransactions,
	}).Info("Statement ingested")

	c.JSON(http.StatusCreated, StatementUploadResponse{Statement: stmt, Summary: summary})
}

func persistStatement(stmt *models.Statement, matches []models.TransactionMatch) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO rentease.statements (
			id, landlord_id, file_name, upload_date, period_start, period_end,
			total_transactions, matched_transactions, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, stmt.ID, stmt.LandlordID, stmt.FileName, stmt.UploadDate, stmt.PeriodStart,
		stmt.PeriodEnd, stmt.TotalTransactions, stmt.MatchedTransactions, stmt.Status); err != nil {
		return err
	}

	for i := range matches {
		m := &matches[i]
		txData, err := json.Marshal(m.Transaction)
		if err != nil {
			return err
		}
		var matchedTenant interface{}
		if m.MatchedTenant != nil {
			b, err := json.Marshal(m.MatchedTenant)
			if err != nil {
				return err
			}
			matchedTenant = string(b)
		}
		alternatives := []byte("[]")
		if len(m.AlternativeMatches) > 0 {
			if alternatives, err = json.Marshal(m.AlternativeMatches); err != nil {
				return err
			}
		}

		// Replay safety: a re-ingested receipt cannot duplicate a match row.
		if _, err := tx.Exec(`
			INSERT INTO rentease.transaction_matches (
				id, statement_id, receipt_no, transaction_data, matched_tenant,
				alternative_matches, outcome, status, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (statement_id, receipt_no) DO NOTHING
		`, m.ID, m.StatementID, m.Transaction.ReceiptNo, string(txData), matchedTenant,
			string(alternatives), m.Outcome, m.Status, m.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListStatements returns the landlord's statements, newest first.
func ListStatements(c *gin.Context) {
	landlordID := auth.LandlordFromContext(c)

	rows, err := db.Query(`
		SELECT id, landlord_id, file_name, upload_date, period_start, period_end,
		       total_transactions, matched_transactions, status
		FROM rentease.statements
		WHERE landlord_id = $1 AND status <> 'deleted'
		ORDER BY upload_date DESC
	`, landlordID)
	if err != nil {
		logger.WithError(err).WithField("landlord_id", landlordID).Error("Failed to list statements")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list statements"})
		return
	}
	defer rows.Close()

	statements := []models.Statement{}
	for rows.Next() {
		var s models.Statement
		if err := rows.Scan(&s.ID, &s.LandlordID, &s.FileName, &s.UploadDate,
			&s.PeriodStart, &s.PeriodEnd, &s.TotalTransactions,
			&s.MatchedTransactions, &s.Status); err != nil {
			logger.WithError(err).Error("Failed to scan statement row")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list statements"})
			return
		}
		statements = append(statements, s)
	}
	if err := rows.Err(); err != nil {
		logger.WithError(err).Error("Failed to iterate statement rows")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list statements"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"statements": statements})
}

// GetStatement returns one statement with all of its matches.
func GetStatement(c *gin.Context) {
	landlordID := auth.LandlordFromContext(c)
	statementID := c.Param("id")

	var s models.Statement
	err := db.QueryRow(`
		SELECT id, landlord_id, file_name, upload_date, period_start, period_end,
		       total_transactions, matched_transactions, status
		FROM rentease.statements
		WHERE id = $1 AND landlord_id = $2 AND status <> 'deleted'
	`, statementID, landlordID).Scan(&s.ID, &s.LandlordID, &s.FileName,
		&s.UploadDate, &s.PeriodStart, &s.PeriodEnd, &s.TotalTransactions,
		&s.MatchedTransactions, &s.Status)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "statement not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("statement_id", statementID).Error("Failed to load statement")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load statement"})
		return
	}

	matches, err := listMatches(statementID)
	if err != nil {
		logger.WithError(err).WithField("statement_id", statementID).Error("Failed to load statement matches")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load matches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"statement": s, "matches": matches})
}

func listMatches(statementID string) ([]models.TransactionMatch, error) {
	rows, err := db.Query(`
		SELECT id, statement_id, transaction_data, matched_tenant,
		       alternative_matches, outcome, status, review_notes, reviewed_at, created_at
		FROM rentease.transaction_matches
		WHERE statement_id = $1
		ORDER BY created_at, id
	`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := []models.TransactionMatch{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.TransactionMatch, error) {
	var m models.TransactionMatch
	var txData, alternatives []byte
	var matchedTenant sql.NullString
	if err := row.Scan(&m.ID, &m.StatementID, &txData, &matchedTenant,
		&alternatives, &m.Outcome, &m.Status, &m.ReviewNotes, &m.ReviewedAt,
		&m.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(txData, &m.Transaction); err != nil {
		return nil, err
	}
	if matchedTenant.Valid && matchedTenant.String != "" {
		var tenant models.TenantMatch
		if err := json.Unmarshal([]byte(matchedTenant.String), &tenant); err != nil {
			return nil, err
		}
		m.MatchedTenant = &tenant
	}
	if len(alternatives) > 0 {
		if err := json.Unmarshal(alternatives, &m.AlternativeMatches); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// DeleteStatement soft-deletes a statement. Its matches become unreachable
// with it; payment history rows from approved matches are untouched.
func DeleteStatement(c *gin.Context) {
	landlordID := auth.LandlordFromContext(c)
	statementID := c.Param("id")

	result, err := db.Exec(`
		UPDATE rentease.statements
		SET status = 'deleted'
		WHERE id = $1 AND landlord_id = $2 AND status <> 'deleted'
	`, statementID, landlordID)
	if err != nil {
		logger.WithError(err).WithField("statement_id", statementID).Error("Failed to delete statement")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete statement"})
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "statement not found"})
		return
	}

	logger.WithFields(logging.Fields{
		"landlord_id":  landlordID,
		"statement_id": statementID,
	}).Info("Statement deleted")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func listTenants(landlordID string) ([]models.Tenant, error) {
	rows, err := db.Query(`
		SELECT id, landlord_id, full_name, phone, email, rent_amount,
		       property_id, property_name, unit_label
		FROM rentease.tenants
		WHERE landlord_id = $1
	`, landlordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []models.Tenant{}
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.LandlordID, &t.FullName, &t.Phone,
			&t.Email, &t.RentAmount, &t.PropertyID, &t.PropertyName,
			&t.UnitLabel); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
