package model

import "testing"

func TestNormalizeCode(t *testing.T) {
	tests := map[string]string{
		"drl-01":    "DRL-01",
		"  saw 2  ": "SAW 2",
		"ABC":       "ABC",
		"":          "",
	}
	for in, want := range tests {
		if got := NormalizeCode(in); got != want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestItemFilterMatches(t *testing.T) {
	drill := Item{Code: "DRL-01", Name: "Drill", Category: "Tools", Status: StatusOutside,
		CheckoutPerson: "Alex", ProjectName: "Bench Build"}

	tests := []struct {
		name   string
		filter ItemFilter
		want   bool
	}{
		{"empty", ItemFilter{}, true},
		{"status match", ItemFilter{Status: StatusOutside}, true},
		{"status mismatch", ItemFilter{Status: StatusInside}, false},
		{"category mismatch", ItemFilter{Category: "Saws"}, false},
		{"search code", ItemFilter{Search: "drl"}, true},
		{"search person", ItemFilter{Search: "ALEX"}, true},
		{"search project", ItemFilter{Search: "bench"}, true},
		{"search miss", ItemFilter{Search: "hammer"}, false},
	}

	for _, tt := range tests {
		if got := tt.filter.Matches(drill); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}
