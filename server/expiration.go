package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExpirationPolicy bounds a ticket's lifetime. MaxTimeToLive caps the total
// lifetime from creation; TimeToKill is the idle timeout between uses.
// Immutable once attached to a ticket.
type ExpirationPolicy struct {
	MaxTimeToLive time.Duration `json:"max_time_to_live"`
	TimeToKill    time.Duration `json:"time_to_kill"`
}

// ExpiredAt reports whether a ticket created at the given time has outlived
// the policy, judged against now and the last time the ticket was used.
func (p ExpirationPolicy) ExpiredAt(created, lastUsed, now time.Time) bool {
	if p.MaxTimeToLive > 0 && now.Sub(created) >= p.MaxTimeToLive {
		return true
	}
	if p.TimeToKill > 0 && now.Sub(lastUsed) >= p.TimeToKill {
		return true
	}
	return false
}

// ExpirationPolicyBuilder produces the service-wide default policy for a
// ticket kind.
type ExpirationPolicyBuilder func() ExpirationPolicy

// ResolveExpirationPolicy picks the expiration policy for a relying party.
// The per-service override applies only when both duration fields are set,
// non-blank, and parse; anything less falls back to the default builder as a
// unit. Pure function, safe for concurrent use.
func ResolveExpirationPolicy(svc *RegisteredService, def ExpirationPolicyBuilder) ExpirationPolicy {
	if svc != nil && svc.AccessTokenPolicy != nil {
		maxTime := strings.TrimSpace(svc.AccessTokenPolicy.MaxTimeToLive)
		ttk := strings.TrimSpace(svc.AccessTokenPolicy.TimeToKill)
		if maxTime != "" && ttk != "" {
			maxDur, errMax := ParseDuration(maxTime)
			ttkDur, errTTK := ParseDuration(ttk)
			if errMax == nil && errTTK == nil {
				return ExpirationPolicy{
					MaxTimeToLive: maxDur.Truncate(time.Second),
					TimeToKill:    ttkDur.Truncate(time.Second),
				}
			}
		}
	}
	return def()
}

// ParseDuration accepts Go duration syntax ("90m") and the ISO-8601 form
// used in service registrations ("PT2H", "PT30M", "P1D").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if s[0] == 'P' || s[0] == 'p' {
		return parseISODuration(s)
	}
	return time.ParseDuration(s)
}

func parseISODuration(s string) (time.Duration, error) {
	orig := s
	s = strings.ToUpper(s)[1:]
	var total time.Duration
	inTime := false
	parts := 0
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r == '.':
			num += string(r)
		case r == 'T':
			inTime = true
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", orig, err)
			}
			num = ""
			var unit time.Duration
			switch {
			case r == 'D' && !inTime:
				unit = 24 * time.Hour
			case r == 'H' && inTime:
				unit = time.Hour
			case r == 'M' && inTime:
				unit = time.Minute
			case r == 'S' && inTime:
				unit = time.Second
			default:
				return 0, fmt.Errorf("invalid duration %q: unsupported unit %q", orig, string(r))
			}
			total += time.Duration(v * float64(unit))
			parts++
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q: trailing number", orig)
	}
	if parts == 0 {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}
	return total, nil
}
