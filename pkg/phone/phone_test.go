package phone

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already canonical", "254712345678", "254712345678"},
		{"leading zero", "0712345678", "254712345678"},
		{"bare nine digits", "712345678", "254712345678"},
		{"plus prefix", "+254712345678", "254712345678"},
		{"spaces and hyphens", "0712 345-678", "254712345678"},
		{"parentheses", "(0712) 345 678", "254712345678"},
		{"landline style 1xx", "0110123456", "254110123456"},
		{"canonical 1xx", "254110123456", "254110123456"},
		{"wrong subscriber prefix", "0812345678", ""},
		{"canonical wrong prefix", "254812345678", ""},
		{"too short", "07123", ""},
		{"too long", "2547123456789", ""},
		{"letters", "07abc45678", ""},
		{"empty", "", ""},
		{"only plus", "+", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"0712345678", "254712345678", "+254 712 345 678", "not-a-phone"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Fatalf("Normalize not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestLast3(t *testing.T) {
	if got := Last3("254712345678"); got != "678" {
		t.Fatalf("Last3 = %q, want 678", got)
	}
	if got := Last3("12"); got != "" {
		t.Fatalf("Last3 on short input = %q, want empty", got)
	}
}
