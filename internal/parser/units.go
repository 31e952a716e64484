// Package parser turns free-text material lists into structured line items.
// This file implements the unit normalizer: free-text unit tokens are mapped
// to a small canonical vocabulary so the same unit never appears under two
// spellings in stored items or rendered artifacts.
package parser

import "strings"

// canonicalUnits maps lowercased, dot-stripped unit tokens to their canonical
// labels. The vocabulary mirrors the units the request template understands:
// м, п.м, м², м³, кг, т, шт., компл., уп., рул., л.
var canonicalUnits = map[string]string{
	"м":     "м",
	"метр":  "м",
	"метра": "м",
	"метров": "м",
	"m":     "м",

	"пм":    "п.м",
	"погм":  "п.м",
	"пог м": "п.м",

	"м2":   "м²",
	"м²":   "м²",
	"квм":  "м²",
	"кв м": "м²",
	"m2":   "м²",

	"м3":    "м³",
	"м³":    "м³",
	"кубм":  "м³",
	"куб м": "м³",
	"m3":    "м³",

	"кг": "кг",
	"kg": "кг",

	"т":  "т",
	"тн": "т",
	"t":  "т",

	"шт":    "шт.",
	"штук":  "шт.",
	"штуки": "шт.",
	"pcs":   "шт.",
	"pc":    "шт.",

	"компл":     "компл.",
	"комп":      "компл.",
	"комплект":  "компл.",
	"комплекта": "компл.",

	"уп":       "уп.",
	"упак":     "уп.",
	"упаковка": "уп.",

	"рул":    "рул.",
	"рулон":  "рул.",
	"рулона": "рул.",

	"л":    "л",
	"литр": "л",
	"l":    "л",
}

// NormalizeUnit maps a raw unit token to its canonical label. Lookup ignores
// case and dots ("шт." and "ШТ" both resolve to "шт."). Unknown units pass
// through trimmed, so the parser never rejects a line over an exotic unit.
func NormalizeUnit(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	key := strings.ToLower(s)
	key = strings.ReplaceAll(key, ".", "")
	key = strings.Join(strings.Fields(key), " ")
	if canon, ok := canonicalUnits[key]; ok {
		return canon
	}
	return s
}
