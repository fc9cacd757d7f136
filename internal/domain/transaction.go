package domain

import (
	"fmt"
	"time"
)

// Transaction represents an incoming payment transaction to be scored.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Parties and instruments
	UserID     string `json:"userId"`
	MerchantID string `json:"merchantId"`
	DeviceID   string `json:"deviceId"`

	// Merchant classification
	MerchantCategory string `json:"merchantCategory"`
	MCCCode          string `json:"mccCode"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Geolocation at time of transaction (may be absent)
	Location *GeoPoint `json:"location,omitempty"`

	// Temporal
	Timestamp      time.Time `json:"timestamp"`
	AccountCreated time.Time `json:"accountCreated"`
	CreatedAt      time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TransactionRequest is the API request payload for transaction scoring.
type TransactionRequest struct {
	TransactionID    string                 `json:"transactionId,omitempty"`
	UserID           string                 `json:"userId" validate:"required"`
	MerchantID       string                 `json:"merchantId"`
	MerchantCategory string                 `json:"merchantCategory"`
	MCCCode          string                 `json:"mccCode"`
	DeviceID         string                 `json:"deviceId"`
	Amount           float64                `json:"amount" validate:"gte=0"`
	Currency         string                 `json:"currency,omitempty"`
	Location         *GeoPoint              `json:"location,omitempty"`
	Timestamp        time.Time              `json:"timestamp,omitempty"`
	AccountCreated   time.Time              `json:"accountCreated,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the request for fields that cannot be defaulted.
// A missing category, MCC, device or location degrades to a conservative
// feature downstream; a missing user or a negative amount cannot.
func (r *TransactionRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if r.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidInput)
	}
	return nil
}

// ToTransaction converts a request to a Transaction domain object,
// filling defaults for optional temporal fields.
func (r *TransactionRequest) ToTransaction(tenantID string) *Transaction {
	now := time.Now().UTC()

	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	created := r.AccountCreated
	if created.IsZero() {
		created = now
	}

	return &Transaction{
		ID:               r.TransactionID,
		TenantID:         tenantID,
		UserID:           r.UserID,
		MerchantID:       r.MerchantID,
		DeviceID:         r.DeviceID,
		MerchantCategory: r.MerchantCategory,
		MCCCode:          r.MCCCode,
		Amount:           r.Amount,
		Currency:         r.Currency,
		Location:         r.Location,
		Timestamp:        ts,
		AccountCreated:   created,
		CreatedAt:        now,
		Metadata:         r.Metadata,
	}
}
