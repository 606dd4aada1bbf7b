package handlers

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Carey99/RentEase-sub000/internal/daraja"
	"github.com/Carey99/RentEase-sub000/pkg/crypto"
	"github.com/Carey99/RentEase-sub000/pkg/logging"
)

var (
	db           *sql.DB
	logger       logging.Logger
	encryptor    *crypto.FieldEncryptor
	darajaClient *daraja.Client
	emailService *EmailService
	metrics      *PaymentMetrics
)

// PaymentMetrics holds all Prometheus metrics for the payments core
type PaymentMetrics struct {
	STKPushes          *prometheus.CounterVec
	CallbacksReceived  *prometheus.CounterVec
	StatementsIngested *prometheus.CounterVec
	MatchReviews       *prometheus.CounterVec
	DarajaDuration     *prometheus.HistogramVec
}

// Init initializes the handlers with database, logger and service clients
func Init(database *sql.DB, log logging.Logger, enc *crypto.FieldEncryptor, client *daraja.Client, paymentMetrics *PaymentMetrics) {
	db = database
	logger = log
	encryptor = enc
	darajaClient = client
	emailService = NewEmailService(log)
	metrics = paymentMetrics
}

func countSTKPush(result string) {
	if metrics != nil && metrics.STKPushes != nil {
		metrics.STKPushes.WithLabelValues(result).Inc()
	}
}

func countCallback(kind string) {
	if metrics != nil && metrics.CallbacksReceived != nil {
		metrics.CallbacksReceived.WithLabelValues(kind).Inc()
	}
}

func countStatement(status string) {
	if metrics != nil && metrics.StatementsIngested != nil {
		metrics.StatementsIngested.WithLabelValues(status).Inc()
	}
}

func countMatchReview(action string) {
	if metrics != nil && metrics.MatchReviews != nil {
		metrics.MatchReviews.WithLabelValues(action).Inc()
	}
}

func observeDarajaDuration(operation string, start time.Time) {
	if metrics != nil && metrics.DarajaDuration != nil {
		metrics.DarajaDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
