package core

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateRoomCodeFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := GenerateRoomCode()
		if err != nil {
			t.Fatal(err)
		}
		if _, verr := ValidateRoomCode(code); verr != nil {
			t.Fatalf("generated code %q does not validate: %v", code, verr)
		}
		seen[code] = true
	}
	// 100 draws from a 36^6 space colliding down to a handful would
	// mean the generator is broken.
	if len(seen) < 90 {
		t.Errorf("only %d distinct codes out of 100", len(seen))
	}
}

func TestValidateRoomCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ABC-123", "ABC-123", false},
		{"abc-123", "ABC-123", false},
		{"  q2w-9xz\t", "Q2W-9XZ", false},
		{"ABC123", "", true},
		{"ABCD-12", "", true},
		{"AB!-123", "", true},
		{"", "", true},
		{"ABC-12", "", true},
	}
	for _, tt := range tests {
		got, err := ValidateRoomCode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateRoomCode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrInvalidRoomCode) {
				t.Errorf("ValidateRoomCode(%q) error = %v, want ErrInvalidRoomCode", tt.in, err)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateRoomCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	if got := NormalizeRoomCode("  abc-123 "); got != "ABC-123" {
		t.Errorf("NormalizeRoomCode = %q, want ABC-123", got)
	}
	// Normalization alone never rejects.
	if got := NormalizeRoomCode("not a code"); !strings.Contains(got, "NOT A CODE") {
		t.Errorf("NormalizeRoomCode mangled input: %q", got)
	}
}
