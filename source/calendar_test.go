package source

import "testing"

func TestToSourceYear(t *testing.T) {
	tests := []struct {
		year int
		want int
	}{
		{2000, 43},
		{2023, 66},
		{1993, 36},
		{1957, 0},
		{1900, -57},
		{2100, 143},
	}

	for _, tt := range tests {
		if got := ToSourceYear(tt.year); got != tt.want {
			t.Errorf("ToSourceYear(%d) = %d, want %d", tt.year, got, tt.want)
		}
	}
}
