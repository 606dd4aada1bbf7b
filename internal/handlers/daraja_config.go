package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Carey99/RentEase-sub000/internal/daraja"
	"github.com/Carey99/RentEase-sub000/pkg/crypto"
	"github.com/Carey99/RentEase-sub000/pkg/logging"
	"github.com/Carey99/RentEase-sub000/pkg/models"
)

// ConfigureDaraja stores or replaces a landlord's gateway credentials. The
// consumer key, consumer secret and passkey are encrypted at rest.
func ConfigureDaraja(c *gin.Context) {
	landlordID := c.Param("id")

	var req DarajaConfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if req.Environment != models.DarajaEnvSandbox && req.Environment != models.DarajaEnvProduction {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "environment must be sandbox or production"})
		return
	}
	if req.BusinessType != models.BusinessTypePaybill && req.BusinessType != models.BusinessTypeTill {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "businessType must be paybill or till"})
		return
	}
	if !isValidShortCode(req.BusinessShortCode) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "businessShortCode must be 5 to 7 digits"})
		return
	}

	consumerKey, err1 := encryptor.Encrypt(req.ConsumerKey)
	consumerSecret, err2 := encryptor.Encrypt(req.ConsumerSecret)
	passkey, err3 := encryptor.Encrypt(req.Passkey)
	err := errors.Join(err1, err2, err3)
	if err == nil {
		err = upsertDarajaConfig(landlordID, &req, consumerKey, consumerSecret, passkey)
	}
	if err != nil {
		logger.WithError(err).WithField("landlord_id", landlordID).Error("Failed to store Daraja configuration")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store configuration"})
		return
	}

	logger.WithFields(logging.Fields{
		"landlord_id": landlordID,
		"environment": req.Environment,
		"short_code":  req.BusinessShortCode,
	}).Info("Daraja gateway configured")

	c.JSON(http.StatusOK, gin.H{"success": true, "isConfigured": true, "isActive": true})
}

func upsertDarajaConfig(landlordID string, req *DarajaConfigureRequest, consumerKey, consumerSecret, passkey string) error {
	_, err := db.Exec(`
		INSERT INTO rentease.daraja_configs (
			landlord_id, consumer_key, consumer_secret, passkey, environment,
			business_short_code, business_type, business_name, account_number,
			is_configured, is_active, configured_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, TRUE, NOW(), NOW())
		ON CONFLICT (landlord_id) DO UPDATE SET
			consumer_key = EXCLUDED.consumer_key,
			consumer_secret = EXCLUDED.consumer_secret,
			passkey = EXCLUDED.passkey,
			environment = EXCLUDED.environment,
			business_short_code = EXCLUDED.business_short_code,
			business_type = EXCLUDED.business_type,
			business_name = EXCLUDED.business_name,
			account_number = EXCLUDED.account_number,
			is_configured = TRUE,
			is_active = TRUE,
			configured_at = NOW(),
			updated_at = NOW()
	`, landlordID, consumerKey, consumerSecret, passkey, req.Environment,
		req.BusinessShortCode, req.BusinessType, req.BusinessName, req.AccountNumber)
	return err
}

// GetDarajaStatus returns the gateway state with the consumer key masked.
func GetDarajaStatus(c *gin.Context) {
	landlordID := c.Param("id")

	cfg, err := loadDarajaConfig(landlordID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusOK, DarajaStatusResponse{IsConfigured: false, IsActive: false})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("landlord_id", landlordID).Error("Failed to load Daraja configuration")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load configuration"})
		return
	}

	c.JSON(http.StatusOK, DarajaStatusResponse{
		IsConfigured:      cfg.IsConfigured,
		IsActive:          cfg.IsActive,
		Environment:       cfg.Environment,
		BusinessShortCode: cfg.BusinessShortCode,
		BusinessType:      cfg.BusinessType,
		BusinessName:      cfg.BusinessName,
		ConsumerKey:       crypto.Mask(decryptField(cfg.ConsumerKey, landlordID, "consumer_key"), 4),
		ConfiguredAt:      cfg.ConfiguredAt,
		LastTestedAt:      cfg.LastTestedAt,
	})
}

// TestDarajaConnection verifies the stored credentials by requesting an OAuth
// token from Daraja.
func TestDarajaConnection(c *gin.Context) {
	landlordID := c.Param("id")
	testedAt := time.Now()

	creds, err := loadDarajaCredentials(landlordID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, daraja.ErrGatewayNotConfigured) {
			status = http.StatusConflict
		}
		c.JSON(status, DarajaTestResponse{Success: false, Message: err.Error(), TestedAt: testedAt})
		return
	}

	verifyStart := time.Now()
	err = darajaClient.VerifyCredentials(c.Request.Context(), creds)
	observeDarajaDuration("oauth", verifyStart)
	if err != nil {
		logger.WithError(err).WithField("landlord_id", landlordID).Warn("Daraja credential test failed")
		c.JSON(http.StatusOK, DarajaTestResponse{
			Success:  false,
			Message:  err.Error(),
			TestedAt: testedAt,
		})
		return
	}

	if _, err := db.Exec(`UPDATE rentease.daraja_configs SET last_tested_at = NOW(), updated_at = NOW() WHERE landlord_id = $1`, landlordID); err != nil {
		logger.WithError(err).WithField("landlord_id", landlordID).Warn("Failed to record Daraja test time")
	}

	c.JSON(http.StatusOK, DarajaTestResponse{
		Success:  true,
		Message:  "Daraja credentials verified",
		TestedAt: testedAt,
	})
}

// DeleteDarajaConfig deactivates the gateway. Credentials stay on the row so
// reactivation does not require re-entry.
func DeleteDarajaConfig(c *gin.Context) {
	landlordID := c.Param("id")

	result, err := db.Exec(`
		UPDATE rentease.daraja_configs
		SET is_active = FALSE, updated_at = NOW()
		WHERE landlord_id = $1
	`, landlordID)
	if err != nil {
		logger.WithError(err).WithField("landlord_id", landlordID).Error("Failed to deactivate Daraja configuration")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to deactivate configuration"})
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "gateway not configured"})
		return
	}

	logger.WithField("landlord_id", landlordID).Info("Daraja gateway deactivated")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func loadDarajaConfig(landlordID string) (*models.DarajaConfig, error) {
	var cfg models.DarajaConfig
	err := db.QueryRow(`
		SELECT landlord_id, consumer_key, consumer_secret, passkey, environment,
		       business_short_code, business_type, business_name, account_number,
		       is_configured, is_active, configured_at, last_tested_at
		FROM rentease.daraja_configs
		WHERE landlord_id = $1
	`, landlordID).Scan(
		&cfg.LandlordID, &cfg.ConsumerKey, &cfg.ConsumerSecret, &cfg.Passkey,
		&cfg.Environment, &cfg.BusinessShortCode, &cfg.BusinessType,
		&cfg.BusinessName, &cfg.AccountNumber, &cfg.IsConfigured, &cfg.IsActive,
		&cfg.ConfiguredAt, &cfg.LastTestedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDarajaCredentials loads and decrypts the credentials needed for an
// outbound call. An inactive or missing config maps to ErrGatewayNotConfigured.
func loadDarajaCredentials(landlordID string) (daraja.Credentials, error) {
	cfg, err := loadDarajaConfig(landlordID)
	if errors.Is(err, sql.ErrNoRows) {
		return daraja.Credentials{}, daraja.ErrGatewayNotConfigured
	}
	if err != nil {
		return daraja.Credentials{}, err
	}
	if !cfg.IsConfigured || !cfg.IsActive {
		return daraja.Credentials{}, daraja.ErrGatewayNotConfigured
	}

	return daraja.Credentials{
		ConsumerKey:       decryptField(cfg.ConsumerKey, landlordID, "consumer_key"),
		ConsumerSecret:    decryptField(cfg.ConsumerSecret, landlordID, "consumer_secret"),
		Passkey:           decryptField(cfg.Passkey, landlordID, "passkey"),
		Environment:       cfg.Environment,
		BusinessShortCode: cfg.BusinessShortCode,
		BusinessType:      cfg.BusinessType,
	}, nil
}

// decryptField decrypts a stored credential, falling back to the raw value
// when the ciphertext is corrupt. A corrupt value is worth a warning but not
// an outage; legacy plaintext rows pass through untouched.
func decryptField(stored, landlordID, field string) string {
	plain, err := encryptor.Decrypt(stored)
	if err != nil {
		logger.WithFields(logging.Fields{
			"landlord_id": landlordID,
			"field":       field,
		}).Warn("Credential ciphertext corrupt, using stored value as-is")
		return stored
	}
	return plain
}

// Safaricom shortcodes are 5 to 7 ASCII digits.
func isValidShortCode(s string) bool {
	if len(s) < 5 || len(s) > 7 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
