package expand

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raphamorim/flash/ast"
)

// Braces performs brace expansion on a single already-parsed brace group,
// returning the literal strings it expands to (without Prefix/Suffix
// applied by the caller — Prefix and Suffix are included here since the
// parser flattens an entire prefix{...}suffix word into one node).
//
// Unlike the recursive multi-group expansion Bash itself does, the parser
// only ever captures one brace group per word (see ast.BraceExpansion),
// so this need not recurse into nested groups.
func Braces(b *ast.BraceExpansion) []string {
	if b.IsSeq {
		items, err := sequenceItems(b.SeqFrom, b.SeqTo, b.SeqStep)
		if err != nil {
			// Not a valid sequence: Bash falls back to the literal text.
			return []string{b.Prefix + "{" + b.SeqFrom + ".." + b.SeqTo + rawStep(b.SeqStep) + "}" + b.Suffix}
		}
		out := make([]string, len(items))
		for i, item := range items {
			out[i] = b.Prefix + item + b.Suffix
		}
		return out
	}
	if len(b.Items) == 0 {
		return []string{b.Prefix + b.Suffix}
	}
	out := make([]string, len(b.Items))
	for i, item := range b.Items {
		out[i] = b.Prefix + item + b.Suffix
	}
	return out
}

func rawStep(step string) string {
	if step == "" {
		return ""
	}
	return ".." + step
}

// sequenceItems expands a {from..to[..step]} sequence. Both endpoints must
// be either single letters or integers (optionally signed, optionally
// zero-padded, in which case the output is zero-padded to match the
// widest endpoint).
func sequenceItems(from, to, step string) ([]string, error) {
	if isSingleLetter(from) && isSingleLetter(to) {
		return charSequence(from[0], to[0], step)
	}
	return numberSequence(from, to, step)
}

func isSingleLetter(s string) bool {
	return len(s) == 1 && ((s[0] >= 'a' && s[0] <= 'z') || (s[0] >= 'A' && s[0] <= 'Z'))
}

func charSequence(from, to byte, step string) ([]string, error) {
	incr := 1
	if from > to {
		incr = -1
	}
	if step != "" {
		n, err := strconv.Atoi(step)
		if err != nil {
			return nil, fmt.Errorf("invalid brace sequence increment %q", step)
		}
		if n == 0 {
			return nil, fmt.Errorf("invalid brace sequence increment 0")
		}
		if (n > 0) != (incr > 0) {
			n = -n
		}
		incr = n
	}
	var out []string
	for c := int(from); (incr > 0 && c <= int(to)) || (incr < 0 && c >= int(to)); c += incr {
		out = append(out, string(byte(c)))
	}
	return out, nil
}

func numberSequence(from, to, step string) ([]string, error) {
	fromN, err := strconv.Atoi(from)
	if err != nil {
		return nil, fmt.Errorf("invalid brace sequence bound %q", from)
	}
	toN, err := strconv.Atoi(to)
	if err != nil {
		return nil, fmt.Errorf("invalid brace sequence bound %q", to)
	}
	width := 0
	if hasLeadingZero(from) || hasLeadingZero(to) {
		width = max(digitWidth(from), digitWidth(to))
	}
	incr := 1
	if fromN > toN {
		incr = -1
	}
	if step != "" {
		n, err := strconv.Atoi(step)
		if err != nil {
			return nil, fmt.Errorf("invalid brace sequence increment %q", step)
		}
		if n == 0 {
			return nil, fmt.Errorf("invalid brace sequence increment 0")
		}
		if (n > 0) != (incr > 0) {
			n = -n
		}
		incr = n
	}
	var out []string
	for n := fromN; (incr > 0 && n <= toN) || (incr < 0 && n >= toN); n += incr {
		out = append(out, formatSeqNum(n, width))
	}
	return out, nil
}

func hasLeadingZero(s string) bool {
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "+")
	return len(s) > 1 && s[0] == '0'
}

func digitWidth(s string) int {
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "+")
	return len(s)
}

func formatSeqNum(n, width int) string {
	s := strconv.Itoa(n)
	if width == 0 {
		return s
	}
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	for len(digits) < width {
		digits = "0" + digits
	}
	if neg {
		return "-" + digits
	}
	return digits
}
