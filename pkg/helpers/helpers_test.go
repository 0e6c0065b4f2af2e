package helpers

import "testing"

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   uint64
		decimals uint8
		want     string
	}{
		{"whole btc", 100000000, 8, "1"},
		{"fractional btc", 150000000, 8, "1.5"},
		{"one satoshi", 1, 8, "0.00000001"},
		{"zero decimals", 42, 0, "42"},
		{"trailing zeros trimmed", 120000000, 8, "1.2"},
		{"whole xmr", 1000000000000, 12, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatAmount(tt.amount, tt.decimals); got != tt.want {
				t.Errorf("FormatAmount(%d, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		s        string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{"whole", "1", 8, 100000000, false},
		{"fractional", "0.5", 8, 50000000, false},
		{"empty", "", 8, 0, true},
		{"garbage", "1.2.3a", 8, 0, true},
		{"excess precision truncated", "0.123456789", 8, 12345678, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.s, tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.s, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tt.s, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	const piconero = uint64(2500000000000)
	back, err := XMRToPiconero(PiconeroToXMR(piconero))
	if err != nil {
		t.Fatalf("XMRToPiconero() error = %v", err)
	}
	if back != piconero {
		t.Errorf("round-trip = %d, want %d", back, piconero)
	}

	const satoshis = uint64(123456789)
	back, err = ParseAmount(FormatAmount(satoshis, 8), 8)
	if err != nil {
		t.Fatalf("ParseAmount() error = %v", err)
	}
	if back != satoshis {
		t.Errorf("round-trip = %d, want %d", back, satoshis)
	}
}
