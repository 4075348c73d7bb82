// Package pattern translates shell glob notation ("*", "?", "[...]") into
// Go regular expressions, for use by globbing and case-arm matching.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

func charClass(s string) (string, error) {
	if strings.HasPrefix(s, "[[.") || strings.HasPrefix(s, "[[=") {
		return "", fmt.Errorf("collating features not supported")
	}
	if !strings.HasPrefix(s, "[[:") {
		return "", nil
	}
	name := s[3:]
	end := strings.Index(name, ":]]")
	if end < 0 {
		return "", fmt.Errorf("[[: was not matched with a closing :]]")
	}
	name = name[:end]
	switch name {
	case "alnum", "alpha", "ascii", "blank", "cntrl", "digit", "graph",
		"lower", "print", "punct", "space", "upper", "word", "xdigit":
	default:
		return "", fmt.Errorf("invalid character class: %q", name)
	}
	return s[:len(name)+6], nil
}

// Regexp turns a shell pattern into a regular expression string suitable
// for regexp.Compile. greedy controls whether "*" is greedy or not; case
// matching ("case" arms) wants greedy=true, while glob expansion usually
// wants the same.
func Regexp(pat string, greedy bool) (string, error) {
	any := false
loop:
	for _, r := range pat {
		switch r {
		case '*', '?', '[', '\\', '.', '+', '(', ')', '|', ']', '{', '}', '^', '$':
			any = true
			break loop
		}
	}
	if !any {
		return pat, nil
	}
	var buf strings.Builder
	for i := 0; i < len(pat); i++ {
		switch c := pat[i]; c {
		case '*':
			buf.WriteString(".*")
			if !greedy {
				buf.WriteByte('?')
			}
		case '?':
			buf.WriteString(".")
		case '\\':
			if i++; i >= len(pat) {
				return "", fmt.Errorf(`\ at end of pattern`)
			}
			buf.WriteString(regexp.QuoteMeta(string(pat[i])))
		case '[':
			name, err := charClass(pat[i:])
			if err != nil {
				return "", err
			}
			if name != "" {
				buf.WriteString(name)
				i += len(name) - 1
				break
			}
			buf.WriteByte(c)
			if i++; i >= len(pat) {
				return "", fmt.Errorf("[ was not matched with a closing ]")
			}
			switch c = pat[i]; c {
			case '!', '^':
				buf.WriteByte('^')
				i++
				c = pat[i]
			}
			buf.WriteByte(c)
			for {
				if i++; i >= len(pat) {
					return "", fmt.Errorf("[ was not matched with a closing ]")
				}
				c = pat[i]
				buf.WriteByte(c)
				if c == ']' {
					break
				}
			}
		default:
			buf.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return buf.String(), nil
}

// HasMeta reports whether a pattern contains unescaped glob metacharacters.
func HasMeta(pat string) bool {
	for i := 0; i < len(pat); i++ {
		switch pat[i] {
		case '\\':
			i++
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// QuoteMeta returns a pattern that matches the literal text, by escaping
// every glob metacharacter in pat.
func QuoteMeta(pat string) string {
	if !strings.ContainsAny(pat, "*?[\\") {
		return pat
	}
	var b strings.Builder
	for _, r := range pat {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Match compiles pat (anchored, case-sensitive) and reports whether it
// matches name in full.
func Match(pat, name string) (bool, error) {
	restr, err := Regexp(pat, true)
	if err != nil {
		return false, err
	}
	re, err := regexp.Compile("^" + restr + "$")
	if err != nil {
		return false, err
	}
	return re.MatchString(name), nil
}
