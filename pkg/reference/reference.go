// Package reference generates the identifiers RentEase sends to Daraja.
// Daraja caps AccountReference at 13 characters and TransactionDesc at 20;
// overflow is trimmed after formatting, never treated as an error.
package reference

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	maxAccountReference = 13
	maxTransactionDesc  = 20

	suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffixLength   = 6
)

// PaymentReference builds the full internal payment reference:
// RE-YYYYMM-L<last 3 of landlord>-T<last 3 of tenant>-<6 random [A-Z0-9]>.
func PaymentReference(landlordID, tenantID string, now time.Time) string {
	return fmt.Sprintf("RE-%s-L%s-T%s-%s",
		now.Format("200601"), lastN(landlordID, 3), lastN(tenantID, 3), randomSuffix())
}

// AccountReference builds the Daraja account reference (max 13 chars).
// With a property/unit it is <PROP4>-<UNIT3>-<MON>; otherwise T<last 4 of
// tenant>-<MON>.
func AccountReference(tenantID, propertyName, unitLabel string, now time.Time) string {
	mon := strings.ToUpper(now.Format("Jan"))
	var ref string
	if propertyName != "" && unitLabel != "" {
		ref = fmt.Sprintf("%s-%s-%s", sanitizeN(propertyName, 4), sanitizeN(unitLabel, 3), mon)
	} else {
		ref = fmt.Sprintf("T%s-%s", lastN(tenantID, 4), mon)
	}
	return truncate(ref, maxAccountReference)
}

// TransactionDesc builds the Daraja transaction description (max 20 chars):
// Rent-<PROP5>-<MON> when a property name is known, Rent-<MON> otherwise.
func TransactionDesc(propertyName string, now time.Time) string {
	mon := strings.ToUpper(now.Format("Jan"))
	var desc string
	if propertyName != "" {
		desc = fmt.Sprintf("Rent-%s-%s", sanitizeN(propertyName, 5), mon)
	} else {
		desc = "Rent-" + mon
	}
	return truncate(desc, maxTransactionDesc)
}

// IdempotencyKey derives a stable 32-char uppercase key for an STK initiation.
// The millisecond timestamp scopes retries of the same bill to one attempt
// window while letting deliberate re-initiations through.
func IdempotencyKey(landlordID, tenantID, billID string, nowMs int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s-%d", landlordID, tenantID, billID, nowMs)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:32]
}

func randomSuffix() string {
	buf := make([]byte, suffixLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in much deeper trouble;
		// fall back to a timestamp-derived suffix rather than aborting a payment.
		ts := fmt.Sprintf("%d", time.Now().UnixNano())
		copy(buf, ts[len(ts)-suffixLength:])
	}
	out := make([]byte, suffixLength)
	for i, b := range buf {
		out[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(out)
}

// sanitizeN uppercases, strips non-alphanumerics and keeps the first n chars.
func sanitizeN(s string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == n {
			break
		}
	}
	return b.String()
}

func lastN(s string, n int) string {
	clean := sanitizeN(s, len(s))
	if len(clean) <= n {
		return clean
	}
	return clean[len(clean)-n:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
