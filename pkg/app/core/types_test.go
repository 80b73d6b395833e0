package core

import "testing"

func TestParseSide(t *testing.T) {
	tests := []struct {
		in   string
		want Side
		ok   bool
	}{
		{"buy", Buy, true},
		{"sell", Sell, true},
		{"BUY", 0, false},
		{"hold", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseSide(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseSide(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSideString(t *testing.T) {
	if Buy.String() != "buy" || Sell.String() != "sell" {
		t.Fatal("side strings diverge from the wire format")
	}
	if Side(0).String() != "unknown" {
		t.Fatal("zero side must stringify as unknown")
	}
}

func TestValidateOrder(t *testing.T) {
	tests := []struct {
		name          string
		price, volume int64
		wantErr       bool
	}{
		{"both bounds min", 0, 1, false},
		{"both bounds max", 100, 10, false},
		{"price below", -1, 5, true},
		{"price above", 101, 5, true},
		{"volume below", 50, 0, true},
		{"volume above", 50, 11, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrder(tt.price, tt.volume)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateOrder(%d, %d) = %v", tt.price, tt.volume, err)
			}
			if err != nil && !IsValidation(err) {
				t.Fatalf("err = %v, want a validation error", err)
			}
		})
	}
}
