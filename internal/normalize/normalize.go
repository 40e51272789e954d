// Package normalize cleans administrative place names so that ward and LGA
// identifiers from different data sources can be compared directly.
package normalize

import (
	"regexp"
	"strings"
)

// Role identifies which kind of administrative unit a name refers to.
// Suffix stripping is role-specific: wards carry a " WARD" suffix, LGAs a
// " LOCAL GOVERNMENT AREA" suffix.
type Role string

const (
	RoleWard Role = "ward"
	RoleLGA  Role = "lga"
)

var (
	// adminCodePrefix matches the 2-3 letter state/LGA code some datasets
	// prepend to place names, e.g. "AD Bille" or "KN Dala".
	adminCodePrefix = regexp.MustCompile(`^[A-Z]{2,3}\s+`)
	punctuation     = regexp.MustCompile(`[^A-Z0-9\s]+`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// roleSuffixes lists the trailing qualifiers stripped per role.
var roleSuffixes = map[Role][]string{
	RoleWard: {" WARD"},
	RoleLGA:  {" LOCAL GOVERNMENT AREA", " LGA"},
}

// Name canonicalizes a raw place name: uppercase, punctuation folded to
// spaces, leading administrative code prefix removed, role-specific trailing
// qualifier removed, whitespace collapsed. Idempotent: applying it twice
// yields the same result as applying it once.
func Name(raw string, role Role) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = punctuation.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	// Strip to a fixed point so the function stays idempotent on names that
	// stack multiple prefixes or qualifiers ("AD AD Bille", "X Ward Ward").
	for {
		next := adminCodePrefix.ReplaceAllString(s, "")
		for _, suffix := range roleSuffixes[role] {
			next = strings.TrimSuffix(next, suffix)
		}
		next = strings.TrimSpace(next)
		if next == s {
			return s
		}
		s = next
	}
}

// Ward is shorthand for Name(raw, RoleWard).
func Ward(raw string) string {
	return Name(raw, RoleWard)
}

// LGA is shorthand for Name(raw, RoleLGA).
func LGA(raw string) string {
	return Name(raw, RoleLGA)
}
