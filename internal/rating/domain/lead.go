package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lead is the read-only view of a lead record the engine scores. It is
// owned by the lead service; the engine only writes back rating and score.
type Lead struct {
	ID                  uuid.UUID
	CompanyName         string
	CompanyType         string
	ContactPerson       string
	ContactPhone        string
	ContactEmail        string
	Description         string
	IndustryDirection   string
	IntendedRegion      string
	RegisteredCapital   decimal.Decimal
	InvestmentAmount    decimal.Decimal
	PublisherReputation *float64
	PublishedAt         time.Time
	CreatedAt           time.Time

	// Stored rating state. Rating is empty when the lead was never rated.
	Rating      Rating
	RatingScore *float64
}

// CompletenessFieldCount is the number of fields scored by completeness.
const CompletenessFieldCount = 10

// PopulatedFields counts the completeness fields that carry a value.
func (l Lead) PopulatedFields() int {
	n := 0
	for _, s := range []string{
		l.CompanyName,
		l.CompanyType,
		l.ContactPerson,
		l.ContactPhone,
		l.ContactEmail,
		l.Description,
		l.IndustryDirection,
		l.IntendedRegion,
	} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	if l.RegisteredCapital.IsPositive() {
		n++
	}
	if l.InvestmentAmount.IsPositive() {
		n++
	}
	return n
}

// RatingDiffers reports whether a computed rating/score differs from what
// the lead has stored.
func (l Lead) RatingDiffers(rating Rating, score float64) bool {
	if l.Rating != rating {
		return true
	}
	if l.RatingScore == nil {
		return true
	}
	return decimal.NewFromFloat(*l.RatingScore).Round(2).Cmp(decimal.NewFromFloat(score).Round(2)) != 0
}

// ReferenceTime is the time the lead's freshness is measured from.
func (l Lead) ReferenceTime() time.Time {
	if !l.PublishedAt.IsZero() {
		return l.PublishedAt
	}
	return l.CreatedAt
}
