package parser

import "testing"

func TestNormalizeUnit(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"м", "м"},
		{"метров", "м"},
		{"ШТ.", "шт."},
		{"штук", "шт."},
		{"м2", "м²"},
		{"КВ.М", "м²"},
		{"куб. м", "м³"},
		{"m3", "м³"},
		{"тн", "т"},
		{"kg", "кг"},
		{"пог.м", "п.м"},
		{"комплект", "компл."},
		{"упак", "уп."},
		{"рулон", "рул."},
		{"литр", "л"},
		{"pcs", "шт."},
		// Unknown units pass through trimmed.
		{"  бухта ", "бухта"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeUnit(tc.in); got != tc.want {
			t.Errorf("NormalizeUnit(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
