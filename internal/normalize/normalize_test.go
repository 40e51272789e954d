package normalize

import "testing"

func TestWardName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ad Bille Ward", "BILLE"},
		{"Bille", "BILLE"},
		{"  bille  ward ", "BILLE"},
		{"Hosheri-Zum", "HOSHERI ZUM"},
		{"Gwale ward", "GWALE"},
		{"KN Dala", "DALA"},
		// "ST" looks like an administrative code prefix, so it is stripped.
		{"St. Mary's", "MARY S"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Ward(tt.in); got != tt.want {
			t.Errorf("Ward(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLGAName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ad Fufore Local Government Area", "FUFORE"},
		{"Fufore LGA", "FUFORE"},
		{"Fufore", "FUFORE"},
		{"kn Nassarawa  local government area", "NASSARAWA"},
	}

	for _, tt := range tests {
		if got := LGA(tt.in); got != tt.want {
			t.Errorf("LGA(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIdempotent(t *testing.T) {
	inputs := []string{
		"ad Bille Ward",
		"AD AD Bille",
		"Zum Ward Ward",
		"Hosheri-Zum",
		"plain name",
	}

	for _, in := range inputs {
		for _, role := range []Role{RoleWard, RoleLGA} {
			once := Name(in, role)
			twice := Name(once, role)
			if once != twice {
				t.Errorf("Name(%q, %s) not idempotent: %q -> %q", in, role, once, twice)
			}
		}
	}
}
