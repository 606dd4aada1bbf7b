// Package statement extracts "Paid In" transactions from M-Pesa statement
// text and matches them against a landlord's tenants.
package statement

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Carey99/RentEase-sub000/pkg/models"
)

// recordLine matches the first line of a statement record:
// receipt, date, time, free-form details, status, paid-in amount, balance.
var recordLine = regexp.MustCompile(
	`(?i)^\s*([A-Z0-9]{8,12})\s+(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2}:\d{2})\s+(.+?)\s+(Completed|Pending|Failed)\s+(-?[\d,]+(?:\.\d{1,2})?)\s+(-?[\d,]+(?:\.\d{1,2})?)\s*$`)

// counterpartyLines match the second line of a record. The statement masks
// the sender phone; only the last three digits survive. First match wins.
var counterpartyLines = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*to\s*-\s*(0[\d*]*\*(\d{3}))\s+(.+?)\s*$`),
	regexp.MustCompile(`(?i)^\s*to\s*-\s*(254[\d*]*\*(\d{3}))\s+(.+?)\s*$`),
	regexp.MustCompile(`(?i)^\s*(0[\d*]*\*(\d{3}))\s+(.+?)\s*$`),
	regexp.MustCompile(`(?i)^\s*(254[\dXx*]*?(\d{3}))\s*-\s*(.+?)\s*$`),
}

// Parse extracts ordered Paid-In transactions from raw statement text.
// Records span two lines; a record whose second line does not carry a
// recognizable counterparty is discarded whole, and withdrawals (paid-in
// amount <= 0) are skipped.
func Parse(rawText string) []models.ParsedTransaction {
	lines := strings.Split(rawText, "\n")
	var txs []models.ParsedTransaction

	for i := 0; i < len(lines); i++ {
		m := recordLine.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}

		amount := parseAmount(m[6])
		if amount <= 0 {
			continue
		}
		if i+1 >= len(lines) {
			break
		}

		phone, last3, name, ok := parseCounterparty(lines[i+1])
		if !ok {
			continue
		}

		completedAt, err := time.Parse("2006-01-02 15:04:05", m[2]+" "+m[3])
		if err != nil {
			continue
		}

		txs = append(txs, models.ParsedTransaction{
			ReceiptNo:        m[1],
			CompletionTime:   completedAt,
			Details:          strings.TrimSpace(m[4]),
			SenderPhone:      phone,
			SenderPhoneLast3: last3,
			SenderName:       titleCase(name),
			Amount:           amount,
			Balance:          parseAmount(m[7]),
		})
		i++ // counterparty line consumed
	}

	return txs
}

// Summarize aggregates a parse run for the upload response.
func Summarize(txs []models.ParsedTransaction) models.StatementSummary {
	summary := models.StatementSummary{TotalTransactions: len(txs)}
	senders := make(map[string]struct{})

	for i := range txs {
		tx := &txs[i]
		summary.TotalAmount += tx.Amount
		senders[tx.SenderPhoneLast3] = struct{}{}

		t := tx.CompletionTime
		if summary.DateRangeStart == nil || t.Before(*summary.DateRangeStart) {
			start := t
			summary.DateRangeStart = &start
		}
		if summary.DateRangeEnd == nil || t.After(*summary.DateRangeEnd) {
			end := t
			summary.DateRangeEnd = &end
		}
	}

	summary.UniqueSenders = len(senders)
	return summary
}

func parseCounterparty(line string) (phone, last3, name string, ok bool) {
	for _, re := range counterpartyLines {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1], m[2], m[3], true
		}
	}
	return "", "", "", false
}

func parseAmount(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
