package parser

import (
	"strings"

	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/token"
)

// parseParamExp parses the text between "${" and "}" into a ParamExpansion.
// pos is the position of s[0] in the original source.
func (p *Parser) parseParamExp(s string, pos token.Pos) *ast.ParamExpansion {
	pe := &ast.ParamExpansion{Op: ast.ParamOp{Kind: ast.OpPlain}}
	i := 0

	if i < len(s) && s[i] == '#' && i+1 < len(s) && (isNameStart(s[i+1]) || s[i+1] == '@' || s[i+1] == '*') {
		pe.Op.Kind = ast.OpLength
		i++
	} else if i < len(s) && s[i] == '!' {
		pe.Op.Kind = ast.OpIndirect
		i++
	}

	nameStart := i
	for i < len(s) && isNameByte(s[i]) {
		i++
	}
	if i == nameStart && i < len(s) {
		// special parameter: @ * # ? $ ! - _ or a digit run
		if s[i] >= '0' && s[i] <= '9' {
			for i < len(s) && s[i] >= '0' && s[i] <= '9' {
				i++
			}
		} else {
			i++
		}
	}
	pe.Name = s[nameStart:i]

	if i < len(s) && s[i] == '[' {
		end := findBalanced(s, i, '[', ']')
		idx := s[i+1 : min(end, len(s))]
		if idx == "@" {
			pe.Op.Kind = ast.OpKeys
		} else {
			pe.Op.Index = p.wordFromText(idx, pos+token.Pos(i+1))
		}
		i = end + 1
	}

	if i >= len(s) {
		return pe
	}
	rest := s[i:]
	base := pos + token.Pos(i)

	switch {
	case strings.HasPrefix(rest, ":-"):
		pe.Op = withWord(pe.Op, ast.OpDefaultIfUnset, p.wordFromText(rest[2:], base+2), false, false)
	case strings.HasPrefix(rest, ":="):
		pe.Op = withWord(pe.Op, ast.OpAssignIfUnset, p.wordFromText(rest[2:], base+2), false, false)
	case strings.HasPrefix(rest, ":?"):
		pe.Op = withWord(pe.Op, ast.OpErrorIfUnset, p.wordFromText(rest[2:], base+2), false, false)
	case strings.HasPrefix(rest, ":+"):
		pe.Op = withWord(pe.Op, ast.OpAlternateIfSet, p.wordFromText(rest[2:], base+2), false, false)
	case strings.HasPrefix(rest, "##"):
		pe.Op = withWord(pe.Op, ast.OpTrimPrefix, p.wordFromText(rest[2:], base+2), true, false)
	case strings.HasPrefix(rest, "#"):
		pe.Op = withWord(pe.Op, ast.OpTrimPrefix, p.wordFromText(rest[1:], base+1), false, false)
	case strings.HasPrefix(rest, "%%"):
		pe.Op = withWord(pe.Op, ast.OpTrimSuffix, p.wordFromText(rest[2:], base+2), true, false)
	case strings.HasPrefix(rest, "%"):
		pe.Op = withWord(pe.Op, ast.OpTrimSuffix, p.wordFromText(rest[1:], base+1), false, false)
	case strings.HasPrefix(rest, "//"):
		pat, repl := splitReplace(rest[2:])
		pe.Op = ast.ParamOp{Kind: ast.OpReplace, Greedy: true, Word: p.wordFromText(pat, base+2), Repl: p.wordFromText(repl, base+2)}
	case strings.HasPrefix(rest, "/"):
		pat, repl := splitReplace(rest[1:])
		pe.Op = ast.ParamOp{Kind: ast.OpReplace, Word: p.wordFromText(pat, base+1), Repl: p.wordFromText(repl, base+1)}
	case strings.HasPrefix(rest, ":"):
		off, length := splitSubstring(rest[1:])
		var lw *ast.Word
		if length != "" {
			lw = p.wordFromText(length, base+1)
		}
		pe.Op = ast.ParamOp{Kind: ast.OpSubstring, Offset: p.wordFromText(off, base+1), Length: lw}
	case strings.HasPrefix(rest, "^^"):
		pe.Op = ast.ParamOp{Kind: ast.OpCaseUpper, CaseAll: true}
	case strings.HasPrefix(rest, "^"):
		pe.Op = ast.ParamOp{Kind: ast.OpCaseUpper}
	case strings.HasPrefix(rest, ",,"):
		pe.Op = ast.ParamOp{Kind: ast.OpCaseLower, CaseAll: true}
	case strings.HasPrefix(rest, ","):
		pe.Op = ast.ParamOp{Kind: ast.OpCaseLower}
	case strings.HasPrefix(rest, "-"):
		pe.Op = withWord(pe.Op, ast.OpDefaultIfUnset, p.wordFromText(rest[1:], base+1), false, false)
	case strings.HasPrefix(rest, "="):
		pe.Op = withWord(pe.Op, ast.OpAssignIfUnset, p.wordFromText(rest[1:], base+1), false, false)
	case strings.HasPrefix(rest, "?"):
		pe.Op = withWord(pe.Op, ast.OpErrorIfUnset, p.wordFromText(rest[1:], base+1), false, false)
	case strings.HasPrefix(rest, "+"):
		pe.Op = withWord(pe.Op, ast.OpAlternateIfSet, p.wordFromText(rest[1:], base+1), false, false)
	}
	return pe
}

func withWord(cur ast.ParamOp, kind ast.ParamOpKind, w *ast.Word, greedy, caseAll bool) ast.ParamOp {
	cur.Kind = kind
	cur.Word = w
	cur.Greedy = greedy
	cur.CaseAll = caseAll
	return cur
}

// splitReplace splits "pat/repl" on the first unescaped '/'. repl is ""
// when absent (delete-match mode).
func splitReplace(s string) (pat, repl string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == '/' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// splitSubstring splits "offset:length" on the first unescaped ':'.
func splitSubstring(s string) (offset, length string) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ':':
			if depth == 0 {
				return s[:i], s[i+1:]
			}
		}
	}
	return s, ""
}
