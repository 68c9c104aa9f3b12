package scoring

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"lead_rating_engine/internal/rating/domain"

	"github.com/shopspring/decimal"
)

// tier maps an amount threshold (inclusive) to points. Tables are ordered
// from the highest threshold down.
type tier struct {
	min    decimal.Decimal
	points float64
}

var (
	qualificationCapitalTiers = []tier{
		{million.Mul(decimal.NewFromInt(10)), 50},
		{million, 40},
		{decimal.NewFromInt(100_000), 25},
	}
	scaleCapitalTiers = []tier{
		{million.Mul(decimal.NewFromInt(10)), 50},
		{million, 35},
		{decimal.NewFromInt(100_000), 20},
	}
	scaleInvestmentTiers = []tier{
		{million.Mul(decimal.NewFromInt(50)), 50},
		{million.Mul(decimal.NewFromInt(10)), 35},
		{million, 20},
	}
)

// Points for any positive amount below the lowest tier.
const (
	qualificationCapitalFloor = 15.0
	scaleFloor                = 10.0
)

var (
	incorporatedCompanyKeywords = []string{
		"limited liability", "llc", "joint stock", "joint-stock", "corporation", "co., ltd", "ltd",
		"有限责任公司", "股份有限公司", "有限公司",
	}
	individualBusinessKeywords = []string{
		"sole proprietor", "individual", "self-employed",
		"个体工商户", "个体",
	}

	highValueIndustries = []string{
		"high-tech", "high tech", "hi-tech", "artificial intelligence", "new energy", "biomedicine",
		"biotech", "semiconductor", "software",
		"高新技术", "人工智能", "新能源", "生物医药", "半导体",
	}
	midValueIndustries = []string{
		"manufacturing", "services", "logistics", "healthcare",
		"制造业", "服务业", "物流", "医疗",
	}
	traditionalIndustries = []string{
		"traditional", "retail", "agriculture", "catering",
		"传统", "零售", "农业", "餐饮",
	}

	tierOneCities = []string{
		"beijing", "shanghai", "shenzhen", "guangzhou",
		"北京", "上海", "深圳", "广州",
	}
	tierTwoCities = []string{
		"hangzhou", "nanjing", "chengdu", "wuhan", "suzhou", "tianjin", "chongqing", "xi'an", "xian",
		"杭州", "南京", "成都", "武汉", "苏州", "天津", "重庆", "西安",
	}
)

func scoreCompleteness(lead domain.Lead) float64 {
	return float64(lead.PopulatedFields()) / float64(domain.CompletenessFieldCount) * 100
}

func scoreQualification(lead domain.Lead) float64 {
	score := companyTypePoints(lead.CompanyType)
	score += tierPoints(lead.RegisteredCapital, qualificationCapitalTiers, qualificationCapitalFloor)
	return clampFloat(score, 0, 100)
}

func companyTypePoints(companyType string) float64 {
	ct := strings.ToLower(strings.TrimSpace(companyType))
	switch {
	case ct == "":
		return 0
	case containsAny(ct, individualBusinessKeywords):
		return 25
	case containsAny(ct, incorporatedCompanyKeywords):
		return 50
	default:
		return 30
	}
}

func scoreScale(lead domain.Lead) float64 {
	score := tierPoints(lead.RegisteredCapital, scaleCapitalTiers, scaleFloor)
	score += tierPoints(lead.InvestmentAmount, scaleInvestmentTiers, scaleFloor)
	return score
}

// tierPoints returns the points of the highest tier amount reaches, floor
// for smaller positive amounts and 0 for missing ones.
func tierPoints(amount decimal.Decimal, tiers []tier, floor float64) float64 {
	if !amount.IsPositive() {
		return 0
	}
	for _, t := range tiers {
		if amount.GreaterThanOrEqual(t.min) {
			return t.points
		}
	}
	return floor
}

func scoreIndustry(lead domain.Lead) float64 {
	industry := strings.ToLower(lead.IndustryDirection)
	switch {
	case containsAny(industry, highValueIndustries):
		return baseScore + 40
	case containsAny(industry, midValueIndustries):
		return baseScore + 25
	case containsAny(industry, traditionalIndustries):
		return baseScore + 10
	}
	return baseScore
}

func scoreLocation(lead domain.Lead) float64 {
	region := strings.ToLower(strings.TrimSpace(lead.IntendedRegion))
	switch {
	case region == "":
		return baseScore
	case containsAny(region, tierOneCities):
		return baseScore + 40
	case containsAny(region, tierTwoCities):
		return baseScore + 25
	}
	return baseScore + 10
}

func scoreTimeliness(lead domain.Lead, now time.Time) float64 {
	ref := lead.ReferenceTime()
	if ref.IsZero() {
		return baseScore
	}
	age := now.Sub(ref)
	day := 24 * time.Hour
	switch {
	case age <= 7*day:
		return 100
	case age <= 30*day:
		return 80
	case age <= 90*day:
		return 60
	case age <= 180*day:
		return 40
	}
	return 20
}

func scoreReputation(lead domain.Lead) float64 {
	if lead.PublisherReputation == nil {
		return 75
	}
	return clampFloat(*lead.PublisherReputation, 0, 100)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if containsKeyword(s, k) {
			return true
		}
	}
	return false
}

// containsKeyword matches k in s. Latin keyword edges must sit on a word
// boundary so "retail" does not match "retailer"; CJK text has no word
// separators and matches as a substring.
func containsKeyword(s, k string) bool {
	if k == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(k)
	last, _ := utf8.DecodeLastRuneInString(k)
	for from := 0; from <= len(s)-len(k); {
		i := strings.Index(s[from:], k)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(k)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (!isLatinWordRune(first) || start == 0 || !isWordRune(before)) &&
			(!isLatinWordRune(last) || end == len(s) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		from = start + size
	}
	return false
}

func isLatinWordRune(r rune) bool {
	return r < utf8.RuneSelf && isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
