package flows

import "github.com/MrEthical07/goMPin/internal/settings"

// checksumDigits is the only access-number length with a defined checksum.
const checksumDigits = 7

// ValidAccessNumber rejects an empty access number and checks the trailing
// check digit when the backend enforces checksums. Digits are weighted by
// their distance from the end, excluding the check digit itself.
func ValidAccessNumber(an string, cs settings.ClientSettings) bool {
	if an == "" {
		return false
	}
	if !cs.AccessNumberUseCheckSum || cs.AccessNumberDigits != checksumDigits {
		return true
	}
	return AccessNumberChecksum(an)
}

// AccessNumberChecksum reports whether an is a 7-digit number whose last
// digit equals ((11 - sum%11) % 11) % 10.
func AccessNumberChecksum(an string) bool {
	if len(an) != checksumDigits {
		return false
	}
	sum := 0
	for i := 0; i < checksumDigits; i++ {
		c := an[i]
		if c < '0' || c > '9' {
			return false
		}
		if i < checksumDigits-1 {
			sum += int(c-'0') * (checksumDigits - i)
		}
	}
	check := ((11 - sum%11) % 11) % 10
	return int(an[checksumDigits-1]-'0') == check
}
