package uuid

import "testing"

func TestNewProducesValidV4(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("generated id not a valid v4: %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestIsValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"550E8400-E29B-41D4-A716-446655440000", true},
		{"550e8400-e29b-11d4-a716-446655440000", false}, // v1, not v4
		{"550e8400-e29b-41d4-c716-446655440000", false}, // bad variant
		{"not-a-uuid", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsValid(c.in); got != c.want {
			t.Errorf("IsValid(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Fatalf("fresh id rejected: %v", err)
	}
	if err := Validate("nope"); err == nil {
		t.Fatal("malformed id accepted")
	}
}
