package domain

// ProfileSnapshot is an immutable copy of a user's rolling history,
// taken at a point in time. Feature extraction works exclusively on
// snapshots; the live profile is owned by the ProfileStore and mutated
// only through its Observe operation.
type ProfileSnapshot struct {
	UserID string

	// Amounts is the ordered, append-only sequence of observed amounts.
	Amounts []float64

	// LastLocation is the most recent known geolocation, nil if none.
	LastLocation *GeoPoint

	// DeviceCounts maps device id to the number of observations made
	// from that device.
	DeviceCounts map[string]int64
}

// Count returns the number of prior observations for the user.
func (s *ProfileSnapshot) Count() int {
	if s == nil {
		return 0
	}
	return len(s.Amounts)
}
