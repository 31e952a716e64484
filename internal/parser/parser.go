// Package parser turns free-text material lists into structured line items.
//
// Parsing is line-oriented and never aborts on a single bad line: each input
// line is independently normalized, split into a head (name/type) segment and
// a quantity+unit segment, and either yields a line item or contributes one
// human-readable diagnostic. Accepted lines are renumbered 1..N in input
// order regardless of rejected lines in between.
//
// The head/quantity split is a heuristic, not a grammar: the trailing one to
// three whitespace-delimited tokens are tried as a quantity+unit candidate
// (which tolerates glued forms like "100м"), and the first digit-leading
// candidate that matches the quantity pattern wins. Mis-splits on pathological
// input (names with embedded trailing numbers) are accepted best-effort
// behavior.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// MaxLines caps how many parsed lines a single batch may contain. Lines past
// the cap are counted in ParseResult.Skipped, not parsed.
const MaxLines = 25

// Line is one parsed material position.
type Line struct {
	LineNo   int
	Name     string
	TypeMark string
	Qty      decimal.Decimal
	Unit     string
}

// ParseResult is the outcome of parsing one batch of text.
type ParseResult struct {
	Lines   []Line
	Errors  []string // one diagnostic per rejected line, in input order
	Skipped int      // valid-looking lines dropped past the MaxLines cap
}

// qtyRE matches the quantity+unit candidate segment:
//
//	NUMBER [- NUMBER] UNIT
//
// NUMBER accepts "." or "," as the decimal separator. A dash-separated range
// resolves to its upper bound. The unit must start with a non-digit so that
// glued forms ("100м") split correctly.
var qtyRE = regexp.MustCompile(`^([0-9]+(?:[.,][0-9]+)?)(?:-([0-9]+(?:[.,][0-9]+)?))?\s*([^\s0-9].*)$`)

// headParenRE splits a head of the form "name (type)".
var headParenRE = regexp.MustCompile(`^(.*?)\s*\((.+)\)$`)

// dashVariants are unified to a plain ASCII hyphen before any splitting.
var dashVariants = strings.NewReplacer("–", "-", "—", "-", "−", "-", "‒", "-")

// Parse splits text into material lines.
//
// Per line: trim, collapse internal whitespace, unify dash variants, strip
// trailing punctuation; empty lines and command lines (leading "/") are
// dropped silently. Quantities must parse as exact decimals strictly greater
// than zero. Unit text goes through NormalizeUnit.
func Parse(text string) ParseResult {
	var res ParseResult

	for _, raw := range strings.Split(norm.NFC.String(text), "\n") {
		line := normalizeLine(raw)
		if line == "" || strings.HasPrefix(line, "/") {
			continue
		}
		if len(res.Lines) >= MaxLines {
			res.Skipped++
			continue
		}

		item, diag := parseLine(line)
		if diag != "" {
			res.Errors = append(res.Errors, diag)
			continue
		}
		item.LineNo = len(res.Lines) + 1
		res.Lines = append(res.Lines, item)
	}
	return res
}

// parseLine splits one normalized line into a Line; on failure it returns a
// diagnostic string instead.
func parseLine(line string) (Line, string) {
	tokens := strings.Fields(line)

	// Trailing 1–3 tokens as the quantity+unit candidate; head must keep at
	// least one token.
	for k := 1; k <= 3 && k < len(tokens); k++ {
		candidate := strings.Join(tokens[len(tokens)-k:], " ")
		candidate = strings.TrimPrefix(candidate, "~")
		if candidate == "" || !isDigit(candidate[0]) {
			continue
		}
		m := qtyRE.FindStringSubmatch(candidate)
		if m == nil {
			continue
		}

		qtyStr := m[1]
		if m[2] != "" {
			qtyStr = m[2] // range resolves to its upper bound
		}
		qty, err := decimal.NewFromString(strings.ReplaceAll(qtyStr, ",", "."))
		if err != nil {
			return Line{}, fmt.Sprintf("invalid number %q in %q", qtyStr, clip(line, 50))
		}
		if !qty.IsPositive() {
			return Line{}, fmt.Sprintf("quantity must be > 0: %q", clip(line, 50))
		}

		head := strings.Join(tokens[:len(tokens)-k], " ")
		name, typeMark, ok := splitHead(head)
		if !ok {
			return Line{}, fmt.Sprintf("missing material name: %q", clip(line, 50))
		}
		return Line{
			Name:     name,
			TypeMark: typeMark,
			Qty:      qty,
			Unit:     NormalizeUnit(m[3]),
		}, ""
	}

	return Line{}, fmt.Sprintf("no quantity/unit segment: %q", clip(line, 50))
}

// splitHead separates the name from an optional type/mark. A parenthesized
// head splits as "name (type)"; otherwise the first comma-separated segment
// is the name and the remainder the type.
func splitHead(head string) (name, typeMark string, ok bool) {
	head = strings.TrimRight(head, "-,")
	head = strings.TrimSpace(head)
	if head == "" {
		return "", "", false
	}

	if m := headParenRE.FindStringSubmatch(head); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
	}

	parts := strings.Split(head, ",")
	name = strings.TrimSpace(parts[0])
	if name == "" {
		return "", "", false
	}
	if len(parts) > 1 {
		rest := make([]string, 0, len(parts)-1)
		for _, p := range parts[1:] {
			if t := strings.TrimSpace(p); t != "" {
				rest = append(rest, t)
			}
		}
		typeMark = strings.Join(rest, ", ")
	}
	return name, typeMark, true
}

// normalizeLine trims, collapses internal whitespace, unifies dashes, and
// strips trailing punctuation.
func normalizeLine(s string) string {
	s = dashVariants.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".,;:!")
	return strings.TrimSpace(s)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// clip truncates a diagnostic excerpt to at most n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
