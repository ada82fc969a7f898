package models

import "testing"

func TestOrderedPair(t *testing.T) {
	tests := []struct {
		name         string
		a, b         int
		want1, want2 int
	}{
		{"already ordered", 1, 2, 1, 2},
		{"reversed", 2, 1, 1, 2},
		{"large gap reversed", 9001, 7, 7, 9001},
		{"adjacent reversed", 43, 42, 42, 43},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got1, got2 := OrderedPair(tt.a, tt.b)
			if got1 != tt.want1 || got2 != tt.want2 {
				t.Errorf("OrderedPair(%d, %d) = (%d, %d), want (%d, %d)",
					tt.a, tt.b, got1, got2, tt.want1, tt.want2)
			}
		})
	}
}

func TestOrderedPairSymmetric(t *testing.T) {
	pairs := [][2]int{{1, 2}, {7, 42}, {100, 3}, {5, 5}}

	for _, p := range pairs {
		f1, f2 := OrderedPair(p[0], p[1])
		r1, r2 := OrderedPair(p[1], p[0])
		if f1 != r1 || f2 != r2 {
			t.Errorf("OrderedPair(%d, %d) = (%d, %d) but OrderedPair(%d, %d) = (%d, %d)",
				p[0], p[1], f1, f2, p[1], p[0], r1, r2)
		}
		if f1 > f2 {
			t.Errorf("OrderedPair(%d, %d) = (%d, %d) is not ascending", p[0], p[1], f1, f2)
		}
	}
}
