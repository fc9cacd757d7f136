// Package feature converts raw transactions plus profile snapshots into
// fixed-length, named feature vectors for the classifier ensemble.
package feature

// Dim is the feature vector length. The index order below is a contract
// consumed by trained models; it must never change without a new bundle
// version.
const Dim = 15

// Feature vector indices.
const (
	IdxAmountNormalized = iota
	IdxCategoryRisk
	IdxHourNormalized
	IdxDayOfWeekNormalized
	IdxHighRiskHourFlag
	IdxTransactionFrequency
	IdxAmountDeviation
	IdxMerchantVelocity
	IdxGeographicDistance
	IdxDeviceConsistency
	IdxAccountAgeNormalized
	IdxMCCRisk
	IdxVelocity24h
	IdxVelocity1h
	IdxAmountPercentile
)

// Vector is a feature vector in the fixed index order above.
type Vector []float64

var featureNames = [Dim]string{
	"amount_normalized",
	"category_risk",
	"hour_normalized",
	"day_of_week_normalized",
	"high_risk_hour_flag",
	"transaction_frequency",
	"amount_deviation",
	"merchant_velocity",
	"geographic_distance",
	"device_consistency",
	"account_age_normalized",
	"mcc_risk",
	"velocity_24h",
	"velocity_1h",
	"amount_percentile",
}

// Names returns the feature names in vector order.
func Names() []string {
	names := make([]string, Dim)
	copy(names[:], featureNames[:])
	return names
}
