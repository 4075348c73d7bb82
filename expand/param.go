package expand

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/pattern"
)

// WordExpander lets param.go recursively expand the sub-words embedded in
// a parameter operator (the default/replacement/pattern/offset words)
// without importing the top-level Expander and creating a cycle; expand.go
// implements this against itself.
type WordExpander interface {
	ExpandToString(w *ast.Word) (string, error)
}

// Param evaluates a ParamExpansion against env, returning the resulting
// string and, for ${arr[@]}-style expansions, the array's elements as a
// separate []string for the word-splitting stage downstream.
func Param(env Environ, we WordExpander, pe *ast.ParamExpansion) (string, []string, error) {
	op := pe.Op

	if op.Kind == ast.OpIndirect {
		if err := checkNounset(env, pe.Name, op.Kind); err != nil {
			return "", nil, err
		}
		target := env.Get(pe.Name).String()
		if !isValidArithName(target) {
			return "", nil, nil
		}
		return env.Get(target).String(), nil, nil
	}

	if op.Kind == ast.OpLength {
		if err := checkNounset(env, pe.Name, op.Kind); err != nil {
			return "", nil, err
		}
		v := env.Get(pe.Name)
		switch x := v.Value.(type) {
		case []string:
			return strconv.Itoa(len(x)), nil, nil
		case map[string]string:
			return strconv.Itoa(len(x)), nil, nil
		default:
			return strconv.Itoa(len(v.String())), nil, nil
		}
	}

	if err := checkNounset(env, pe.Name, op.Kind); err != nil {
		return "", nil, err
	}
	v := env.Get(pe.Name)
	_, v = v.Resolve(env)

	if op.Kind == ast.OpKeys {
		switch x := v.Value.(type) {
		case []string:
			keys := make([]string, len(x))
			for i := range x {
				keys[i] = strconv.Itoa(i)
			}
			return strings.Join(keys, " "), keys, nil
		case map[string]string:
			var keys []string
			for k := range x {
				keys = append(keys, k)
			}
			return strings.Join(keys, " "), keys, nil
		}
	}

	scalar, array, err := indexValue(we, v, op.Index)
	if err != nil {
		return "", nil, err
	}
	if array != nil && op.Kind == ast.OpPlain {
		return strings.Join(array, " "), array, nil
	}

	switch op.Kind {
	case ast.OpPlain, ast.OpIndex:
		return scalar, nil, nil

	case ast.OpDefaultIfUnset:
		if v.IsSet() && scalar != "" {
			return scalar, nil, nil
		}
		def, err := expandOpWord(we, op.Word)
		return def, nil, err

	case ast.OpAssignIfUnset:
		if v.IsSet() {
			return scalar, nil, nil
		}
		def, err := expandOpWord(we, op.Word)
		if err != nil {
			return "", nil, err
		}
		if err := env.Set(pe.Name, Variable{Value: def}); err != nil {
			return "", nil, err
		}
		return def, nil, nil

	case ast.OpErrorIfUnset:
		if v.IsSet() {
			return scalar, nil, nil
		}
		msg, err := expandOpWord(we, op.Word)
		if err != nil {
			return "", nil, err
		}
		if msg == "" {
			msg = "parameter not set"
		}
		return "", nil, fmt.Errorf("%s: %s", pe.Name, msg)

	case ast.OpAlternateIfSet:
		if !v.IsSet() {
			return "", nil, nil
		}
		alt, err := expandOpWord(we, op.Word)
		return alt, nil, err

	case ast.OpTrimPrefix:
		pat, err := expandOpWord(we, op.Word)
		if err != nil {
			return "", nil, err
		}
		return trimPattern(scalar, pat, true, op.Greedy), nil, nil

	case ast.OpTrimSuffix:
		pat, err := expandOpWord(we, op.Word)
		if err != nil {
			return "", nil, err
		}
		return trimPattern(scalar, pat, false, op.Greedy), nil, nil

	case ast.OpReplace:
		pat, err := expandOpWord(we, op.Word)
		if err != nil {
			return "", nil, err
		}
		repl, err := expandOpWord(we, op.Repl)
		if err != nil {
			return "", nil, err
		}
		return replacePattern(scalar, pat, repl, op.Greedy), nil, nil

	case ast.OpSubstring:
		return substring(we, scalar, op.Offset, op.Length)

	case ast.OpCaseUpper:
		return changeCase(scalar, op.CaseAll, true), nil, nil

	case ast.OpCaseLower:
		return changeCase(scalar, op.CaseAll, false), nil, nil

	default:
		return scalar, nil, nil
	}
}

// checkNounset implements "set -u": a reference to a name that was never
// assigned is an error, except for the operators that exist specifically
// to handle an unset parameter themselves (the "${v:-d}" family and
// "${!arr[@]}", which enumerates possibly-zero keys the same way "$@"
// does for positional parameters).
func checkNounset(env Environ, name string, kind ast.ParamOpKind) error {
	switch kind {
	case ast.OpDefaultIfUnset, ast.OpAssignIfUnset, ast.OpErrorIfUnset, ast.OpAlternateIfSet, ast.OpKeys:
		return nil
	}
	nc, ok := env.(NounsetChecker)
	if !ok || !nc.Nounset() {
		return nil
	}
	if env.Get(name).IsSet() {
		return nil
	}
	return &ExpansionError{Name: name}
}

func expandOpWord(we WordExpander, w *ast.Word) (string, error) {
	if w == nil {
		return "", nil
	}
	return we.ExpandToString(w)
}

func indexValue(we WordExpander, v Variable, index *ast.Word) (string, []string, error) {
	switch x := v.Value.(type) {
	case []string:
		if index == nil {
			if len(x) > 0 {
				return x[0], x, nil
			}
			return "", x, nil
		}
		idxStr, err := expandOpWord(we, index)
		if err != nil {
			return "", nil, err
		}
		if idxStr == "@" || idxStr == "*" {
			return strings.Join(x, " "), x, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil {
			return "", nil, fmt.Errorf("invalid array index %q", idxStr)
		}
		if i < 0 || i >= len(x) {
			return "", nil, nil
		}
		return x[i], nil, nil
	case map[string]string:
		if index == nil {
			return "", nil, nil
		}
		key, err := expandOpWord(we, index)
		if err != nil {
			return "", nil, err
		}
		if key == "@" || key == "*" {
			var vals []string
			for _, val := range x {
				vals = append(vals, val)
			}
			return strings.Join(vals, " "), vals, nil
		}
		return x[key], nil, nil
	default:
		return v.String(), nil, nil
	}
}

// trimPattern implements ${v#pat}/${v##pat}/${v%pat}/${v%%pat}. prefix
// selects trim side; greedy selects longest- vs shortest-match.
func trimPattern(s, pat string, prefix, greedy bool) string {
	if pat == "" {
		return s
	}
	restr, err := pattern.Regexp(pat, greedy)
	if err != nil {
		return s
	}
	var re *regexp.Regexp
	if prefix {
		re, err = regexp.Compile("^(?:" + restr + ")")
	} else {
		re, err = regexp.Compile("(?:" + restr + ")$")
	}
	if err != nil {
		return s
	}
	locs := findMatches(re, s, prefix, greedy)
	if locs == nil {
		return s
	}
	if prefix {
		return s[locs[1]:]
	}
	return s[:locs[0]]
}

// findMatches returns the match span to cut, picking the longest match
// for greedy and the shortest for non-greedy when several anchors apply.
func findMatches(re *regexp.Regexp, s string, prefix, greedy bool) []int {
	if prefix {
		return re.FindStringIndex(s)
	}
	// Go's regexp has no right-anchored shortest-match mode; scan suffixes.
	if greedy {
		return re.FindStringIndex(s)
	}
	for i := 0; i <= len(s); i++ {
		if loc := re.FindStringIndex(s[i:]); loc != nil {
			return []int{i + loc[0], i + loc[1]}
		}
	}
	return nil
}

func replacePattern(s, pat, repl string, global bool) string {
	if pat == "" {
		return s
	}
	anchorPrefix := strings.HasPrefix(pat, "#")
	anchorSuffix := strings.HasPrefix(pat, "%")
	if anchorPrefix || anchorSuffix {
		pat = pat[1:]
	}
	restr, err := pattern.Regexp(pat, true)
	if err != nil {
		return s
	}
	switch {
	case anchorPrefix:
		restr = "^(?:" + restr + ")"
	case anchorSuffix:
		restr = "(?:" + restr + ")$"
	}
	re, err := regexp.Compile(restr)
	if err != nil {
		return s
	}
	if global {
		return re.ReplaceAllString(s, escapeRepl(repl))
	}
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + repl + s[loc[1]:]
}

func escapeRepl(repl string) string {
	return strings.ReplaceAll(repl, "$", "$$")
}

func substring(we WordExpander, s string, offsetW, lengthW *ast.Word) (string, []string, error) {
	runes := []rune(s)
	offStr, err := expandOpWord(we, offsetW)
	if err != nil {
		return "", nil, err
	}
	off, err := strconv.Atoi(strings.TrimSpace(offStr))
	if err != nil {
		return "", nil, fmt.Errorf("invalid substring offset %q", offStr)
	}
	if off < 0 {
		off += len(runes)
		if off < 0 {
			off = 0
		}
	}
	if off > len(runes) {
		off = len(runes)
	}
	if lengthW == nil {
		return string(runes[off:]), nil, nil
	}
	lenStr, err := expandOpWord(we, lengthW)
	if err != nil {
		return "", nil, err
	}
	length, err := strconv.Atoi(strings.TrimSpace(lenStr))
	if err != nil {
		return "", nil, fmt.Errorf("invalid substring length %q", lenStr)
	}
	end := off + length
	if length < 0 {
		end = len(runes) + length
	}
	if end > len(runes) {
		end = len(runes)
	}
	if end < off {
		return "", nil, nil
	}
	return string(runes[off:end]), nil, nil
}

func changeCase(s string, all, upper bool) string {
	runes := []rune(s)
	n := len(runes)
	if !all {
		n = 1
	}
	for i := 0; i < n && i < len(runes); i++ {
		if upper {
			runes[i] = unicode.ToUpper(runes[i])
		} else {
			runes[i] = unicode.ToLower(runes[i])
		}
	}
	return string(runes)
}
