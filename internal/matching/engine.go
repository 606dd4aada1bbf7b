// Package matching scores parsed statement transactions against a landlord's
// tenant snapshot and selects the best candidate per transaction.
package matching

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/Carey99/RentEase-sub000/pkg/models"
	"github.com/Carey99/RentEase-sub000/pkg/phone"
)

// Score weights. Only three digits of the sender phone survive masking, so
// the name carries most of the weight and the phone acts as confirmation.
const (
	weightName   = 0.60
	weightPhone  = 0.25
	weightAmount = 0.15
)

// Match scores one transaction against every tenant and picks the best
// candidate plus alternatives. The returned TransactionMatch has no ID or
// StatementID yet; the ingest coordinator assigns those on persist.
func Match(tx models.ParsedTransaction, tenants []models.Tenant) models.TransactionMatch {
	candidates := make([]models.TenantMatch, 0, len(tenants))
	for i := range tenants {
		candidates = append(candidates, scoreTenant(tx, &tenants[i]))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Scores.OverallScore > candidates[j].Scores.OverallScore
	})

	match := models.TransactionMatch{
		Transaction: tx,
		Outcome:     models.MatchOutcomeNoMatch,
		Status:      models.MatchStatusPending,
	}

	// A near-exact name wins unconditionally; the phone is not required.
	for i := range candidates {
		if candidates[i].Scores.NameScore >= 95 {
			best := candidates[i]
			match.MatchedTenant = &best
			match.Outcome = models.MatchOutcomeMatched
			for j := range candidates {
				if j == i {
					continue
				}
				s := candidates[j].Scores
				if s.OverallScore >= 50 || s.NameScore >= 80 {
					match.AlternativeMatches = append(match.AlternativeMatches, candidates[j])
				}
			}
			return match
		}
	}

	// Otherwise require either a phone hit or a strong name.
	viable := candidates[:0]
	for _, c := range candidates {
		if c.Scores.PhoneScore == 100 || c.Scores.NameScore >= 90 {
			viable = append(viable, c)
		}
	}
	if len(viable) == 0 {
		return match
	}

	best := viable[0]
	if best.Scores.OverallScore < 60 {
		return match
	}
	match.MatchedTenant = &best
	for _, c := range viable[1:] {
		if c.Scores.OverallScore >= 50 {
			match.AlternativeMatches = append(match.AlternativeMatches, c)
		}
	}

	match.Outcome = models.MatchOutcomeMatched
	if len(match.AlternativeMatches) > 0 && match.AlternativeMatches[0].Scores.OverallScore >= 75 {
		match.Outcome = models.MatchOutcomeAmbiguous
	}
	return match
}

func scoreTenant(tx models.ParsedTransaction, tenant *models.Tenant) models.TenantMatch {
	scores := models.MatchScores{
		PhoneScore: phoneScore(tx.SenderPhoneLast3, tenant.Phone),
		NameScore:  nameScore(tx.SenderName, tenant.FullName),
	}
	scores.AmountScore, scores.WithUtilities = amountScore(tx.Amount, tenant.RentAmount)
	scores.OverallScore = weightName*scores.NameScore +
		weightPhone*scores.PhoneScore +
		weightAmount*scores.AmountScore
	scores.Confidence = confidence(scores.OverallScore)
	scores.MatchType = matchType(scores)

	return models.TenantMatch{
		TenantID:   tenant.ID,
		TenantName: tenant.FullName,
		RentAmount: tenant.RentAmount,
		Scores:     scores,
	}
}

func phoneScore(txLast3, tenantPhone string) float64 {
	if txLast3 != "" && phone.Last3(tenantPhone) == txLast3 {
		return 100
	}
	return 0
}

// nameScore is normalized Levenshtein similarity on lowercased, trimmed names.
func nameScore(txName, tenantName string) float64 {
	a := strings.ToLower(strings.TrimSpace(txName))
	b := strings.ToLower(strings.TrimSpace(tenantName))
	if a == b {
		return 100
	}
	// ComputeDistance counts runes, so the denominator must too.
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 0
	}
	score := 100 * float64(maxLen-levenshtein.ComputeDistance(a, b)) / float64(maxLen)
	return math.Max(0, math.Min(100, score))
}

// amountScore rates how well the paid amount fits the tenant's rent. An
// overpayment of 5-25% is treated as rent plus utility charges.
func amountScore(paid, rent float64) (score float64, withUtilities bool) {
	if rent <= 0 {
		return 0, false
	}
	delta := paid - rent
	if delta == 0 {
		return 100, false
	}
	pct := math.Abs(delta) / rent * 100
	if delta > 0 && pct >= 5 && pct <= 25 {
		return math.Max(75, 100-pct), true
	}
	switch {
	case pct <= 5:
		return 95, false
	case pct <= 20:
		return 80 - pct, false
	default:
		return math.Max(0, 50-pct), false
	}
}

func confidence(overall float64) string {
	switch {
	case overall >= 90:
		return models.ConfidenceHigh
	case overall >= 75:
		return models.ConfidenceMedium
	case overall >= 60:
		return models.ConfidenceLow
	default:
		return models.ConfidenceNone
	}
}

func matchType(s models.MatchScores) string {
	switch {
	case s.NameScore >= 95 && (s.PhoneScore == 100 || s.AmountScore >= 95):
		return models.MatchTypePerfect
	case s.NameScore >= 90:
		return models.MatchTypeGood
	case s.PhoneScore == 100 && s.NameScore >= 80 && s.AmountScore >= 75:
		return models.MatchTypeGood
	case s.PhoneScore == 100 && s.NameScore >= 60:
		return models.MatchTypePartial
	case s.PhoneScore == 100 || s.NameScore >= 70:
		return models.MatchTypeWeak
	default:
		return models.MatchTypeNone
	}
}
