package feature

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Category risk tiers. Unknown categories fall through to the default.
var highRiskCategories = map[string]float64{
	"gambling":       0.9,
	"wire_transfer":  0.85,
	"cryptocurrency": 0.8,
	"cash_advance":   0.75,
	"forex":          0.7,
	"money_transfer": 0.65,
}

var mediumRiskCategories = map[string]float64{
	"travel":        0.5,
	"hotel":         0.45,
	"rental":        0.4,
	"online_retail": 0.35,
}

const defaultCategoryRisk = 0.2

// High-risk merchant category codes (securities, quasi-cash, gambling,
// marketplaces abused for card testing).
var highRiskMCCs = map[string]bool{
	"6211": true,
	"6051": true,
	"6052": true,
	"7995": true,
	"7994": true,
	"5699": true,
	"5960": true,
	"5962": true,
}

const (
	mccRiskHigh    = 0.8
	mccRiskDefault = 0.3
)

// Extractor converts (transaction, profile snapshot) into a feature
// vector. Extraction is deterministic and has no side effects; profile
// updates are a separate, caller-triggered operation on the store.
type Extractor struct {
	cfg      domain.FeatureConfig
	velocity VelocitySource
	devices  DeviceSource
}

// NewExtractor creates an extractor, rejecting configs whose caps
// could not serve as divisors. Nil sources fall back to the documented
// static placeholders.
func NewExtractor(cfg domain.FeatureConfig, velocity VelocitySource, devices DeviceSource) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("feature config: %w", err)
	}
	if velocity == nil {
		velocity = StaticVelocitySource{}
	}
	if devices == nil {
		devices = StaticDeviceSource{}
	}
	return &Extractor{cfg: cfg, velocity: velocity, devices: devices}, nil
}

// Names returns the feature names in vector order.
func (e *Extractor) Names() []string {
	return Names()
}

// Extract computes the 15-dimensional feature vector for a transaction
// against a profile snapshot. Missing optional fields degrade to
// conservative defaults; a failing velocity or device source fails the
// extraction (infrastructure error, not malformed input).
func (e *Extractor) Extract(ctx context.Context, tx *domain.Transaction, snap *domain.ProfileSnapshot) (Vector, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrInvalidInput)
	}

	v := make(Vector, Dim)

	v[IdxAmountNormalized] = clamp01(tx.Amount / e.cfg.AmountCap)
	v[IdxCategoryRisk] = categoryRisk(tx.MerchantCategory)

	hour := tx.Timestamp.Hour()
	v[IdxHourNormalized] = float64(hour) / 24.0
	v[IdxDayOfWeekNormalized] = float64(weekdayIndex(tx)) / 7.0
	if hour >= 23 || hour <= 5 {
		v[IdxHighRiskHourFlag] = 1.0
	}

	count := snap.Count()
	v[IdxTransactionFrequency] = math.Min(float64(count)/e.cfg.HistoryCap, 1.0)
	v[IdxAmountDeviation] = e.amountDeviation(snap, tx.Amount)

	merchantVelocity, err := e.merchantVelocity(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("merchant velocity source: %w", err)
	}
	v[IdxMerchantVelocity] = merchantVelocity

	v[IdxGeographicDistance] = e.geographicDistance(snap, tx.Location)

	deviceConsistency, err := e.deviceConsistency(ctx, tx, snap)
	if err != nil {
		return nil, fmt.Errorf("device source: %w", err)
	}
	v[IdxDeviceConsistency] = deviceConsistency

	v[IdxAccountAgeNormalized] = e.accountAge(tx)
	v[IdxMCCRisk] = mccRisk(tx.MCCCode)

	v24, v1, err := e.userVelocity(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("user velocity source: %w", err)
	}
	v[IdxVelocity24h] = v24
	v[IdxVelocity1h] = v1

	v[IdxAmountPercentile] = amountPercentile(snap, tx.Amount)

	return v, nil
}

// amountDeviation is |z-score| capped at DeviationCapSigma standard
// deviations and normalized to [0,1]. Zero history or zero stddev
// yields 0, never a division error.
func (e *Extractor) amountDeviation(snap *domain.ProfileSnapshot, amount float64) float64 {
	n := snap.Count()
	if n == 0 {
		return 0
	}

	var sum float64
	for _, a := range snap.Amounts {
		sum += a
	}
	mean := sum / float64(n)

	var variance float64
	for _, a := range snap.Amounts {
		d := a - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(n))
	if std == 0 {
		return 0
	}

	z := math.Abs(amount-mean) / std
	return math.Min(z/e.cfg.DeviationCapSigma, 1.0)
}

func (e *Extractor) merchantVelocity(ctx context.Context, tx *domain.Transaction) (float64, error) {
	if tx.MerchantID == "" {
		return 0, nil
	}
	count, err := e.velocity.CountMerchant(ctx, tx.TenantID, tx.MerchantID, e.cfg.MerchantWindow)
	if err != nil {
		return 0, err
	}
	return math.Min(float64(count)/e.cfg.MerchantVelocityCap, 1.0), nil
}

// geographicDistance is the Euclidean degree-distance from the last
// known location, normalized by DistanceCapDegrees. No prior or current
// location yields 0.
func (e *Extractor) geographicDistance(snap *domain.ProfileSnapshot, loc *domain.GeoPoint) float64 {
	if snap == nil || snap.LastLocation == nil || loc == nil {
		return 0
	}
	dLat := loc.Lat - snap.LastLocation.Lat
	dLon := loc.Lon - snap.LastLocation.Lon
	distance := math.Sqrt(dLat*dLat + dLon*dLon)
	return math.Min(distance/e.cfg.DistanceCapDegrees, 1.0)
}

func (e *Extractor) deviceConsistency(ctx context.Context, tx *domain.Transaction, snap *domain.ProfileSnapshot) (float64, error) {
	// New users always score neutral, whatever the source says.
	if snap.Count() == 0 {
		return 0.5, nil
	}

	share, known, err := e.devices.DeviceShare(ctx, tx.TenantID, tx.UserID, tx.DeviceID)
	if err != nil {
		return 0, err
	}
	if !known {
		return 0.5, nil
	}
	return clamp01(share), nil
}

func (e *Extractor) accountAge(tx *domain.Transaction) float64 {
	ageDays := tx.Timestamp.Sub(tx.AccountCreated).Hours() / 24.0
	if ageDays < 0 {
		return 0
	}
	return math.Min(ageDays/e.cfg.AccountAgeCapDays, 1.0)
}

func (e *Extractor) userVelocity(ctx context.Context, tx *domain.Transaction) (float64, float64, error) {
	c24, err := e.velocity.CountUser(ctx, tx.TenantID, tx.UserID, e.cfg.UserWindow24h)
	if err != nil {
		return 0, 0, err
	}
	c1, err := e.velocity.CountUser(ctx, tx.TenantID, tx.UserID, e.cfg.UserWindow1h)
	if err != nil {
		return 0, 0, err
	}
	v24 := math.Min(float64(c24)/e.cfg.Velocity24hCap, 1.0)
	v1 := math.Min(float64(c1)/e.cfg.Velocity1hCap, 1.0)
	return v24, v1, nil
}

// amountPercentile is the fraction of the user's historical amounts
// less than or equal to the current amount; 0.5 with no history.
func amountPercentile(snap *domain.ProfileSnapshot, amount float64) float64 {
	n := snap.Count()
	if n == 0 {
		return 0.5
	}
	below := 0
	for _, a := range snap.Amounts {
		if a <= amount {
			below++
		}
	}
	return float64(below) / float64(n)
}

func categoryRisk(category string) float64 {
	c := strings.ToLower(category)
	if risk, ok := highRiskCategories[c]; ok {
		return risk
	}
	if risk, ok := mediumRiskCategories[c]; ok {
		return risk
	}
	return defaultCategoryRisk
}

func mccRisk(mcc string) float64 {
	if highRiskMCCs[mcc] {
		return mccRiskHigh
	}
	return mccRiskDefault
}

// weekdayIndex returns 0 for Monday through 6 for Sunday.
func weekdayIndex(tx *domain.Transaction) int {
	return (int(tx.Timestamp.Weekday()) + 6) % 7
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
