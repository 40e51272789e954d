package validation

import (
	"testing"

	"github.com/mbd888/wardflow/internal/idgen"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"sess_0123456789abcdef01234567", true},
		{"ds_0123456789abcdef01234567", true},
		{"wh_aaaaaaaaaaaaaaaaaaaaaaaa", true},

		// Invalid cases
		{"0123456789abcdef01234567", false},       // No prefix
		{"sess_0123456789abcdef", false},          // Too short
		{"sess_0123456789ABCDEF01234567", false},  // Uppercase hex
		{"sess_0123456789abcdef0123456z", false},  // Invalid chars
		{"SESS_0123456789abcdef01234567", false},  // Uppercase prefix
		{"sess-0123456789abcdef01234567", false},  // Wrong separator
		{"", false},
		{"sess_", false},
	}

	for _, tc := range tests {
		result := IsValidID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestIsValidID_GeneratedIDs(t *testing.T) {
	for _, prefix := range []string{"sess_", "ds_", "wh_"} {
		id := idgen.WithPrefix(prefix)
		if !IsValidID(id) {
			t.Errorf("Generated ID %q should be valid", id)
		}
	}
}

func TestIsValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"Dala", true},
		{"Unguwa Uku", true},
		{"St. Mary's", true},
		{"Garin-Gabas", true},
		{"Tudun Wada (North)", true},
		{"Fagge D2", true},

		// Invalid
		{"", false},
		{"ward\x00name", false},
		{"<script>", false},
		{"name;drop table", false},
	}

	for _, tc := range tests {
		result := IsValidName(tc.name)
		if result != tc.valid {
			t.Errorf("IsValidName(%q) = %v, want %v", tc.name, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("state", "Kano"),
		ValidName("ward", "Dala"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("state", ""),
		ValidName("ward", "<script>"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestValidPercentage(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		value *float64
		valid bool
	}{
		{f(0), true},
		{f(50), true},
		{f(100), true},
		{nil, true},

		// Invalid
		{f(-1), false},
		{f(100.5), false},
	}

	for _, tc := range tests {
		err := ValidPercentage("urbanPercentage", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("ValidPercentage(%v) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}
