package catalog

import (
	"strconv"
	"strings"
	"time"
)

// Plan is the locally cached copy of a provider price and its parent
// product metadata. Plans are created lazily on first reference and
// updated only by an explicit Refresh, never by subscription events.
type Plan struct {
	PriceID          string // provider price id, unique
	Name             string
	Amount           int64  // minor currency units, non-negative
	Currency         string // 3-letter code, stored lower-case
	Interval         string // month, year, ...
	InitialCredits   int64  // granted once on first activation
	RecurringCredits int64  // granted per successful billing period
	Active           bool
	Livemode         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Tier is a coarse account classification derived from the active plan.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// tierKeywords is ordered; the first keyword found in the plan name wins.
var tierKeywords = []struct {
	keyword string
	tier    Tier
}{
	{"free", TierFree},
	{"basic", TierBasic},
	{"premium", TierPremium},
	{"enterprise", TierEnterprise},
}

var tierExact = map[string]Tier{
	"Free Plan":       TierFree,
	"Basic Plan":      TierBasic,
	"Premium Plan":    TierPremium,
	"Enterprise Plan": TierEnterprise,
}

// TierFor maps a plan display name to a tier. The function is pure and
// total: an exact-match lookup first, then a case-insensitive keyword
// match, and TierBasic for anything unrecognized.
func TierFor(planName string) Tier {
	if tier, ok := tierExact[planName]; ok {
		return tier
	}
	lower := strings.ToLower(planName)
	for _, kw := range tierKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.tier
		}
	}
	return TierBasic
}

// CreditsFromMetadata extracts an integer credit grant from provider
// product metadata. Missing or non-numeric values yield zero, never an
// error: a plan without credit metadata simply grants nothing.
func CreditsFromMetadata(metadata map[string]string, key string) int64 {
	raw, ok := metadata[key]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
