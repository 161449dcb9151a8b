package identity

import "github.com/MrEthical07/goMPin/secret"

// TimePermitCache is the locally cached customer time-permit share of one
// identity together with the authority date it was issued for.
type TimePermitCache struct {
	permit *secret.Bytes
	date   int
}

// NewTimePermitCache returns a cache holding a copy of permit for date.
func NewTimePermitCache(permit []byte, date int) TimePermitCache {
	return TimePermitCache{permit: secret.New(permit), date: date}
}

// Date returns the issuance day index, zero when empty.
func (c TimePermitCache) Date() int {
	return c.date
}

// Empty reports whether no permit is cached.
func (c TimePermitCache) Empty() bool {
	return c.permit.Empty()
}

// ValidFor reports whether the cached permit was issued for date.
func (c TimePermitCache) ValidFor(date int) bool {
	return !c.Empty() && c.date == date
}

// Permit returns a copy of the cached permit that the caller owns.
func (c TimePermitCache) Permit() *secret.Bytes {
	return c.permit.Clone()
}

// Hex returns the hex form of the cached permit, used by persistence.
func (c TimePermitCache) Hex() string {
	return c.permit.Hex()
}

// Invalidate overwrites the cached permit and clears the date.
func (c *TimePermitCache) Invalidate() {
	c.permit.Wipe()
	c.permit = nil
	c.date = 0
}
