package expand

import (
	"fmt"
	"os/user"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/pattern"
)

// Expander carries everything the word-expansion pipeline needs besides
// the Environ already threaded through Param/Arith: a filesystem for
// pathname expansion and tilde lookups, and a callback the interpreter
// installs to actually run a command substitution's command list (kept
// out of this package to avoid an expand<->interp import cycle).
type Expander struct {
	Env Environ
	Fs  afero.Fs
	Dir string // working directory, used to resolve relative globs

	NoGlob   bool
	GlobStar bool

	CommandSubst func(list *ast.List) (string, error)
}

type quoteLevel uint

const (
	quoteNone quoteLevel = iota
	quoteDouble
	quoteSingle
)

type fieldPart struct {
	val   string
	quote quoteLevel
}

func (e *Expander) ifs() string {
	v := e.Env.Get("IFS")
	if !v.IsSet() {
		return " \t\n"
	}
	return v.String()
}

func ifsRune(ifs string, r rune) bool {
	return strings.ContainsRune(ifs, r)
}

// ExpandToString expands w for a scalar, non-splitting context: a
// parameter-expansion default/pattern/replacement word, a redirection
// target, an assignment right-hand side. Implements WordExpander so
// param.go can call back into here for nested words.
func (e *Expander) ExpandToString(w *ast.Word) (string, error) {
	if w == nil {
		return "", nil
	}
	field, err := e.wordField(w.Parts)
	if err != nil {
		return "", err
	}
	return joinField(field), nil
}

func joinField(field []fieldPart) string {
	if len(field) == 1 {
		return field[0].val
	}
	var b strings.Builder
	for _, p := range field {
		b.WriteString(p.val)
	}
	return b.String()
}

// wordField expands parts into a single field with no IFS splitting,
// used by ExpandToString and by pattern/glob contexts.
func (e *Expander) wordField(parts []ast.Node) ([]fieldPart, error) {
	var field []fieldPart
	for i, n := range parts {
		switch x := n.(type) {
		case *ast.BraceExpansion:
			strs := Braces(x)
			field = append(field, fieldPart{val: strings.Join(strs, " ")})
		case *ast.Lit:
			s := x.Value
			if i == 0 {
				s = e.expandTilde(s)
			}
			field = append(field, fieldPart{val: s})
		case *ast.StringLiteral:
			field = append(field, fieldPart{val: x.Value, quote: quoteSingle})
		case *ast.ParamExpansion:
			s, _, err := Param(e.Env, e, x)
			if err != nil {
				return nil, err
			}
			q := quoteNone
			if x.Quoted {
				q = quoteDouble
			}
			field = append(field, fieldPart{val: s, quote: q})
		case *ast.CommandSubstitution:
			s, err := e.cmdSubst(x)
			if err != nil {
				return nil, err
			}
			q := quoteNone
			if x.Quoted {
				q = quoteDouble
			}
			field = append(field, fieldPart{val: s, quote: q})
		case *ast.Arithmetic:
			v, err := Arith(e.Env, x.Expr)
			if err != nil {
				return nil, err
			}
			field = append(field, fieldPart{val: strconv.FormatInt(v, 10)})
		default:
			return nil, fmt.Errorf("unhandled word part %T", n)
		}
	}
	return field, nil
}

func (e *Expander) cmdSubst(cs *ast.CommandSubstitution) (string, error) {
	if e.CommandSubst == nil {
		return "", fmt.Errorf("command substitution not supported in this context")
	}
	out, err := e.CommandSubst(cs.List)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// wordFields expands parts into the (possibly many) fields IFS splitting
// produces, used for command arguments and other list contexts.
func (e *Expander) wordFields(parts []ast.Node) ([][]fieldPart, error) {
	var fields [][]fieldPart
	var cur []fieldPart
	allowEmpty := false
	ifs := e.ifs()

	flush := func() {
		if len(cur) == 0 {
			return
		}
		fields = append(fields, cur)
		cur = nil
	}
	splitAdd := func(val string) {
		pieces := strings.FieldsFunc(val, func(r rune) bool { return ifsRune(ifs, r) })
		for i, piece := range pieces {
			if i > 0 {
				flush()
			}
			cur = append(cur, fieldPart{val: piece})
		}
	}

	for i, n := range parts {
		switch x := n.(type) {
		case *ast.BraceExpansion:
			// Brace expansion always stands alone as the only part in a
			// word (see parser.detectBraceExpansion); each expansion is
			// its own field, not IFS-split further.
			for j, s := range Braces(x) {
				if j > 0 {
					flush()
				}
				cur = append(cur, fieldPart{val: s})
			}
		case *ast.Lit:
			s := x.Value
			if i == 0 {
				s = e.expandTilde(s)
			}
			cur = append(cur, fieldPart{val: s})
		case *ast.StringLiteral:
			allowEmpty = true
			cur = append(cur, fieldPart{val: x.Value, quote: quoteSingle})
		case *ast.ParamExpansion:
			s, arr, err := Param(e.Env, e, x)
			if err != nil {
				return nil, err
			}
			if x.Quoted {
				allowEmpty = true
				if arr != nil {
					for j, el := range arr {
						if j > 0 {
							flush()
						}
						cur = append(cur, fieldPart{val: el, quote: quoteDouble})
					}
					continue
				}
				cur = append(cur, fieldPart{val: s, quote: quoteDouble})
				continue
			}
			if arr != nil {
				for j, el := range arr {
					if j > 0 {
						flush()
					}
					splitAdd(el)
				}
				continue
			}
			splitAdd(s)
		case *ast.CommandSubstitution:
			s, err := e.cmdSubst(x)
			if err != nil {
				return nil, err
			}
			if x.Quoted {
				allowEmpty = true
				cur = append(cur, fieldPart{val: s, quote: quoteDouble})
				continue
			}
			splitAdd(s)
		case *ast.Arithmetic:
			v, err := Arith(e.Env, x.Expr)
			if err != nil {
				return nil, err
			}
			cur = append(cur, fieldPart{val: strconv.FormatInt(v, 10)})
		default:
			return nil, fmt.Errorf("unhandled word part %T", n)
		}
	}
	flush()
	if allowEmpty && len(fields) == 0 {
		fields = append(fields, cur)
	}
	return fields, nil
}

func escapedGlobField(field []fieldPart) (escaped string, glob bool) {
	var b strings.Builder
	for _, p := range field {
		if p.quote != quoteNone {
			b.WriteString(pattern.QuoteMeta(p.val))
			continue
		}
		b.WriteString(p.val)
		if pattern.HasMeta(p.val) {
			glob = true
		}
	}
	if !glob {
		return "", false
	}
	return b.String(), true
}

// Fields runs the full expansion pipeline — brace, tilde, parameter,
// command and arithmetic substitution, field splitting, and pathname
// expansion — over a sequence of words, in that order, returning the
// resulting shell words.
func (e *Expander) Fields(words ...*ast.Word) ([]string, error) {
	var out []string
	for _, w := range words {
		groups, err := e.wordFields(w.Parts)
		if err != nil {
			return nil, err
		}
		for _, field := range groups {
			path, doGlob := escapedGlobField(field)
			if doGlob && !e.NoGlob {
				matches := e.glob(path)
				if len(matches) > 0 {
					out = append(out, matches...)
					continue
				}
			}
			out = append(out, joinField(field))
		}
	}
	return out, nil
}

// ExpandPattern expands w for use as a glob/case pattern: quoted parts
// are escaped as literal text so they can't introduce metacharacters,
// everything else is expanded but left as a raw pattern.
func (e *Expander) ExpandPattern(w *ast.Word) (string, error) {
	field, err := e.wordField(w.Parts)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, p := range field {
		if p.quote != quoteNone {
			b.WriteString(pattern.QuoteMeta(p.val))
		} else {
			b.WriteString(p.val)
		}
	}
	return b.String(), nil
}

func (e *Expander) expandTilde(s string) string {
	if len(s) == 0 || s[0] != '~' {
		return s
	}
	name := s[1:]
	rest := ""
	if i := strings.IndexByte(name, '/'); i >= 0 {
		rest = name[i:]
		name = name[:i]
	}
	if name == "" {
		home := e.Env.Get("HOME").String()
		if home == "" {
			return s
		}
		return home + rest
	}
	u, err := user.Lookup(name)
	if err != nil {
		return s
	}
	return u.HomeDir + rest
}

func (e *Expander) glob(pat string) []string {
	dir := e.Dir
	if dir == "" {
		dir = "."
	}
	parts := strings.Split(pat, string(filepath.Separator))
	matches := []string{"."}
	if filepath.IsAbs(pat) {
		matches[0] = string(filepath.Separator)
		parts = parts[1:]
	} else {
		matches[0] = dir
	}

	for _, part := range parts {
		if part == "**" && e.GlobStar {
			for i := range matches {
				matches[i] += string(filepath.Separator)
			}
			latest := matches
			for {
				var next []string
				for _, d := range latest {
					next = e.globDir(d, matchAnyRegexp, next)
				}
				if len(next) == 0 {
					break
				}
				matches = append(matches, next...)
				latest = next
			}
			continue
		}
		restr, err := pattern.Regexp(part, true)
		if err != nil {
			return nil
		}
		re, err := regexp.Compile("^" + restr + "$")
		if err != nil {
			return nil
		}
		var next []string
		for _, d := range matches {
			next = e.globDir(d, re, next)
		}
		matches = next
	}

	if !filepath.IsAbs(pat) && dir != "." {
		for i, m := range matches {
			if rel, err := filepath.Rel(dir, m); err == nil {
				matches[i] = rel
			}
		}
	} else if dir == "." {
		for i, m := range matches {
			matches[i] = strings.TrimPrefix(m, "./")
		}
	}
	sort.Strings(matches)
	return matches
}

var matchAnyRegexp = regexp.MustCompile(".*")

func (e *Expander) globDir(dir string, re *regexp.Regexp, matches []string) []string {
	entries, err := afero.ReadDir(e.Fs, dir)
	if err != nil {
		return matches
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(re.String(), `^\.`) && strings.HasPrefix(name, ".") {
			continue
		}
		if re.MatchString(name) {
			matches = append(matches, filepath.Join(dir, name))
		}
	}
	return matches
}

// ReadFields splits s on IFS for the read builtin, mirroring its special
// treatment of backslash escapes (kept unless raw is requested) and the
// "last field absorbs the remainder" rule when n fields are requested.
func (e *Expander) ReadFields(s string, n int, raw bool) []string {
	ifs := e.ifs()
	type span struct{ start, end int }
	var spans []span

	runes := make([]rune, 0, len(s))
	inField := false
	esc := false
	for _, r := range s {
		if inField {
			if ifsRune(ifs, r) && (raw || !esc) {
				spans[len(spans)-1].end = len(runes)
				inField = false
			}
		} else if !ifsRune(ifs, r) && (raw || !esc) {
			spans = append(spans, span{start: len(runes), end: -1})
			inField = true
		}
		if r == '\\' {
			if raw || esc {
				runes = append(runes, r)
			}
			esc = !esc
			continue
		}
		runes = append(runes, r)
		esc = false
	}
	if len(spans) == 0 {
		return nil
	}
	if inField {
		spans[len(spans)-1].end = len(runes)
	}

	switch {
	case n == 1:
		spans[0].start, spans[0].end = 0, len(runes)
		spans = spans[:1]
	case n > 0 && n < len(spans):
		spans[n-1].end = spans[len(spans)-1].end
		spans = spans[:n]
	}

	fields := make([]string, len(spans))
	for i, sp := range spans {
		fields[i] = string(runes[sp.start:sp.end])
	}
	return fields
}
