package quant

import (
	"errors"
	"testing"
)

func TestParseLamports(t *testing.T) {
	tests := []struct {
		input    string
		expected Lamports
	}{
		{"1", 1_000_000_000},
		{"1.5", 1_500_000_000},
		{"0.000000001", 1},
		{"0", 0},
		{"18446744073.709551615", 18446744073709551615},
	}

	for _, tt := range tests {
		got, err := ParseLamports(tt.input)
		if err != nil {
			t.Fatalf("ParseLamports(%q) error: %v", tt.input, err)
		}
		if got != tt.expected {
			t.Errorf("ParseLamports(%q) = %d; want %d", tt.input, got, tt.expected)
		}
	}
}

func TestParseLamports_Errors(t *testing.T) {
	tests := []struct {
		input   string
		wantErr error
	}{
		{"-1", ErrNegativeAmount},
		{"0.0000000001", ErrAmountPrecision},
		{"18446744073.709551616", ErrAmountOutOfRange},
	}

	for _, tt := range tests {
		if _, err := ParseLamports(tt.input); !errors.Is(err, tt.wantErr) {
			t.Errorf("ParseLamports(%q) error = %v; want %v", tt.input, err, tt.wantErr)
		}
	}

	if _, err := ParseLamports("abc"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestLamports_String(t *testing.T) {
	l := Lamports(1_230_000_000)
	expected := "1.23"
	if l.String() != expected {
		t.Errorf("Lamports(1230000000).String() = %s; want %s", l.String(), expected)
	}
}

func TestBasisPoints(t *testing.T) {
	if !BasisPoints(10000).Valid() {
		t.Error("10000 bps should be valid")
	}
	if BasisPoints(10001).Valid() {
		t.Error("10001 bps should be invalid")
	}
	if got := BasisPoints(250).Percent(); got != "2.5%" {
		t.Errorf("BasisPoints(250).Percent() = %s; want 2.5%%", got)
	}
}
