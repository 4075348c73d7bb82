package parser

import (
	"strings"

	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/token"
)

// This file decomposes the raw text of a single WORD token (captured
// verbatim by the lexer) into the Word.Parts node list the AST expects:
// literal runs, quoted segments, and parameter/command/arithmetic
// expansions.

func isNameStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isNameByte(b byte) bool {
	return isNameStart(b) || (b >= '0' && b <= '9')
}

// findBalanced returns the index of the close byte matching the open byte
// at s[i], skipping over nested quoted/backtick/dollar spans so that
// characters inside them never throw off the count. Returns len(s) if
// unterminated.
func findBalanced(s string, i int, open, close byte) int {
	depth := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == open:
			depth++
			i++
		case c == close:
			depth--
			i++
			if depth == 0 {
				return i - 1
			}
		case c == '\'':
			j := i + 1
			for j < len(s) && s[j] != '\'' {
				j++
			}
			i = j + 1
		case c == '"':
			i = findDQEnd(s, i+1) + 1
		case c == '`':
			i = findBacktickEnd(s, i+1) + 1
		case c == '\\':
			i += 2
		default:
			i++
		}
	}
	return len(s)
}

// findDQEnd finds the index of the unescaped '"' that terminates a
// double-quoted span whose content starts at i. Returns len(s) if
// unterminated.
func findDQEnd(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case '"':
			return i
		case '\\':
			i += 2
		case '$':
			i = skipDollarSpan(s, i)
		case '`':
			i = findBacktickEnd(s, i+1) + 1
		default:
			i++
		}
	}
	return len(s)
}

// findBacktickEnd finds the index of the unescaped backtick terminating a
// backtick command substitution whose content starts at i.
func findBacktickEnd(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case '`':
			return i
		case '\\':
			i += 2
		default:
			i++
		}
	}
	return len(s)
}

// skipDollarSpan returns the index just after the substitution or
// parameter reference starting at s[i] (s[i] == '$').
func skipDollarSpan(s string, i int) int {
	j := i + 1
	if j >= len(s) {
		return j
	}
	switch s[j] {
	case '\'':
		k := j + 1
		for k < len(s) {
			if s[k] == '\\' {
				k += 2
				continue
			}
			if s[k] == '\'' {
				return k + 1
			}
			k++
		}
		return k
	case '"':
		return findDQEnd(s, j+1) + 1
	case '{':
		return findBalanced(s, j, '{', '}') + 1
	case '(':
		return findBalanced(s, j, '(', ')') + 1
	default:
		if isNameStart(s[j]) {
			k := j
			for k < len(s) && isNameByte(s[k]) {
				k++
			}
			return k
		}
		return j + 1
	}
}

// decodeUnquotedEscapes removes backslash escapes in an unquoted literal
// run: backslash+char -> char, backslash+newline -> nothing.
func decodeUnquotedEscapes(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			if s[i+1] == '\n' {
				i++
				continue
			}
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// decodeDQEscapes removes the limited escape set allowed inside double
// quotes: \" \\ \$ \` -> literal char, \newline -> nothing, anything else
// (including other backslash sequences) preserved literally.
func decodeDQEscapes(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '$', '`':
				b.WriteByte(s[i+1])
				i++
				continue
			case '\n':
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// decodeAnsiC implements the $'...' escape table for ANSI-C quoting.
func decodeAnsiC(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '\\':
			b.WriteByte('\\')
		case '\'':
			b.WriteByte('\'')
		case '"':
			b.WriteByte('"')
		case 'e', 'E':
			b.WriteByte(0x1b)
		case '0':
			j := i + 1
			n := 0
			for j < len(s) && n < 3 && s[j] >= '0' && s[j] <= '7' {
				j++
				n++
			}
			if n > 0 {
				var v int
				for k := i + 1; k < j; k++ {
					v = v*8 + int(s[k]-'0')
				}
				b.WriteByte(byte(v))
				i = j - 1
			} else {
				b.WriteByte(0)
			}
		case 'x':
			j := i + 1
			n := 0
			for j < len(s) && n < 2 && isHex(s[j]) {
				j++
				n++
			}
			if n > 0 {
				v := 0
				for k := i + 1; k < j; k++ {
					v = v*16 + hexVal(s[k])
				}
				b.WriteByte(byte(v))
				i = j - 1
			} else {
				b.WriteByte('x')
			}
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexVal(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	default:
		return int(b-'A') + 10
	}
}

// ScanWordText decomposes raw text outside of any token stream into word
// parts, the way an unquoted here-document body or a "declare" argument
// re-parses already-lexed text. dq selects double-quote expansion rules
// (parameter/command/arithmetic substitutions are marked Quoted so the
// expander skips splitting and globbing on their results).
func ScanWordText(s string, dq bool) []ast.Node {
	p := &Parser{}
	return p.scanParts(s, 0, dq)
}

// scanParts decomposes s (the text strictly between an enclosing quote
// pair when dq is true, or a bare word's raw text when dq is false) into
// Word.Parts nodes. base is the token.Pos of s[0] in the original source.
func (p *Parser) scanParts(s string, base token.Pos, dq bool) []ast.Node {
	var parts []ast.Node
	var lit strings.Builder
	litStart := base

	flush := func(end token.Pos) {
		if lit.Len() == 0 {
			return
		}
		if dq {
			parts = append(parts, &ast.StringLiteral{Value: lit.String(), Quoting: ast.DoubleQuoted, From: litStart, To: end})
		} else {
			parts = append(parts, &ast.Lit{Value: lit.String(), From: litStart, To: end})
		}
		lit.Reset()
	}

	i := 0
	for i < len(s) {
		pos := base + token.Pos(i)
		c := s[i]
		switch {
		case c == '\'' && !dq:
			j := i + 1
			for j < len(s) && s[j] != '\'' {
				j++
			}
			flush(pos)
			parts = append(parts, &ast.StringLiteral{Value: s[i+1 : min(j, len(s))], Quoting: ast.SingleQuoted, From: pos, To: base + token.Pos(min(j+1, len(s)))})
			i = j + 1
			litStart = base + token.Pos(i)
		case c == '"' && !dq:
			end := findDQEnd(s, i+1)
			inner := s[i+1 : min(end, len(s))]
			flush(pos)
			sub := p.scanParts(inner, base+token.Pos(i+1), true)
			if len(sub) == 0 {
				// empty double-quoted string still counts as a word part
				parts = append(parts, &ast.StringLiteral{Value: "", Quoting: ast.DoubleQuoted, From: pos, To: base + token.Pos(end+1)})
			} else {
				parts = append(parts, sub...)
			}
			i = end + 1
			litStart = base + token.Pos(i)
		case c == '`':
			end := findBacktickEnd(s, i+1)
			inner := s[i+1 : min(end, len(s))]
			flush(pos)
			bt := p.parseCommandSubstText(decodeBacktickEscapes(inner), pos, base+token.Pos(min(end+1, len(s))), true)
			bt.Quoted = dq
			parts = append(parts, bt)
			i = end + 1
			litStart = base + token.Pos(i)
		case c == '$':
			node, consumed := p.scanDollar(s[i:], pos, dq)
			if node == nil {
				lit.WriteByte('$')
				i++
				continue
			}
			flush(pos)
			parts = append(parts, node)
			i += consumed
			litStart = base + token.Pos(i)
		case c == '\\' && !dq:
			if i+1 < len(s) {
				if s[i+1] == '\n' {
					i += 2
					continue
				}
				lit.WriteByte(s[i+1])
				i += 2
			} else {
				lit.WriteByte('\\')
				i++
			}
		case c == '\\' && dq:
			if i+1 < len(s) {
				switch s[i+1] {
				case '"', '\\', '$', '`':
					lit.WriteByte(s[i+1])
					i += 2
					continue
				case '\n':
					i += 2
					continue
				}
			}
			lit.WriteByte('\\')
			i++
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush(base + token.Pos(len(s)))
	return parts
}

func decodeBacktickEscapes(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '`' || s[i+1] == '\\' || s[i+1] == '$') {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// scanDollar interprets the substitution or parameter reference starting
// at s[0] == '$', returning the built node and the number of bytes of s it
// consumed (0 if s[0] turned out not to introduce anything, i.e. a bare
// trailing '$').
func (p *Parser) scanDollar(s string, pos token.Pos, dq bool) (ast.Node, int) {
	if len(s) < 2 {
		return nil, 0
	}
	end := skipDollarSpan(s, 0)
	if end <= 1 {
		return nil, 0
	}
	whole := s[:end]
	switch s[1] {
	case '\'':
		inner := whole[2:]
		if strings.HasSuffix(inner, "'") {
			inner = inner[:len(inner)-1]
		}
		return &ast.StringLiteral{Value: decodeAnsiC(inner), Quoting: ast.AnsiC, From: pos, To: pos + token.Pos(end)}, end
	case '"':
		inner := whole[2:]
		if strings.HasSuffix(inner, "\"") {
			inner = inner[:len(inner)-1]
		}
		return &ast.StringLiteral{Value: decodeDQEscapes(inner), Quoting: ast.Dollar, From: pos, To: pos + token.Pos(end)}, end
	case '{':
		inner := whole[2:]
		if strings.HasSuffix(inner, "}") {
			inner = inner[:len(inner)-1]
		}
		pe := p.parseParamExp(inner, pos+2)
		pe.From = pos
		pe.To = pos + token.Pos(end)
		pe.Quoted = dq
		return pe, end
	case '(':
		if len(whole) >= 3 && whole[2] == '(' {
			inner := whole[3:]
			inner = strings.TrimSuffix(inner, "))")
			x := p.parseArithExpr(inner, pos+3)
			return &ast.Arithmetic{Expr: x, Quoted: dq, From: pos, To: pos + token.Pos(end)}, end
		}
		inner := whole[2:]
		inner = strings.TrimSuffix(inner, ")")
		cs := p.parseCommandSubstText(inner, pos, pos+token.Pos(end), false)
		cs.Quoted = dq
		return cs, end
	default:
		name := whole[1:]
		return &ast.ParamExpansion{Name: name, Short: true, Op: ast.ParamOp{Kind: ast.OpPlain}, Quoted: dq, From: pos, To: pos + token.Pos(end)}, end
	}
}

// parseCommandSubstText parses src (the text between $( and ) or between
// backticks) as a List, for use as a CommandSubstitution node.
func (p *Parser) parseCommandSubstText(src string, from, to token.Pos, backticked bool) *ast.CommandSubstitution {
	sub := New([]byte(src), p.filename)
	list, errs := sub.Parse()
	for _, e := range errs {
		p.errs = append(p.errs, e)
	}
	return &ast.CommandSubstitution{List: list, Backticked: backticked, From: from, To: to}
}

// wordFromText decomposes a raw (not-yet-quote-stripped) text fragment —
// typically the right-hand side of a parameter-expansion operator — into a
// Word, for contexts that themselves accept further expansions.
func (p *Parser) wordFromText(text string, pos token.Pos) *ast.Word {
	parts := p.scanParts(text, pos, false)
	return &ast.Word{Parts: parts, From: pos, To: pos + token.Pos(len(text))}
}
