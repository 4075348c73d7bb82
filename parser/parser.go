// Package parser builds the flash AST from a token stream. It is a
// recursive-descent parser with one token of lookahead, re-entering itself
// (and the lexer) to decompose word text and nested substitutions rather
// than fusing lexer and parser into one pass.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/lexer"
	"github.com/raphamorim/flash/token"
)

// ParseError is a syntax error with a source position.
type ParseError struct {
	Pos  token.Position
	Text string
}

func (e *ParseError) Error() string {
	if !e.Pos.IsValid() {
		return e.Text
	}
	return fmt.Sprintf("%s: %s", e.Pos, e.Text)
}

type pendingHD struct {
	r    *ast.Redirect
	body *string
}

// Parser consumes tokens from a Lexer and builds an *ast.List.
type Parser struct {
	lx       *lexer.Lexer
	filename string

	tok     token.Token
	peeked  *token.Token
	prevEnd token.Pos

	pendingHD []*pendingHD
	errs      []error
}

// New creates a Parser over src. A fresh Lexer is constructed internally;
// callers that need comment tokens should use the lexer package directly.
func New(src []byte, filename string) *Parser {
	p := &Parser{lx: lexer.New(src, filename), filename: filename}
	p.advance()
	return p
}

// Parse parses src as a complete script, returning the top-level list and
// any syntax errors encountered. A syntax error does not abort parsing:
// each malformed statement is skipped up to its next separator so later,
// well-formed statements still parse. A lexical error (such as an
// unterminated quote) is reported and ends parsing at that point.
func (p *Parser) Parse() (*ast.List, []error) {
	list := p.parseTopLevel()
	return list, p.errs
}

func (p *Parser) parseTopLevel() *ast.List {
	list := &ast.List{From: p.tok.Pos}
	p.skipNewlines()
	for p.tok.Kind != token.EOF {
		before := len(p.errs)
		stmt := p.parseStatement()
		list.Statements = append(list.Statements, stmt)
		if len(p.errs) > before {
			p.synchronize()
		} else if op, ok := p.matchSeparator(); ok {
			list.Operators = append(list.Operators, op)
		} else {
			break
		}
		p.skipNewlines()
	}
	list.To = p.prevEnd
	return list
}

// parseList parses statements until stop() reports true (or EOF), for use
// as the body of compound commands.
func (p *Parser) parseList(stop func() bool) *ast.List {
	list := &ast.List{From: p.tok.Pos}
	p.skipNewlines()
	for !stop() && p.tok.Kind != token.EOF {
		before := len(p.errs)
		stmt := p.parseStatement()
		list.Statements = append(list.Statements, stmt)
		if len(p.errs) > before {
			p.synchronize()
			if stop() || p.tok.Kind == token.EOF {
				break
			}
			continue
		}
		op, ok := p.matchSeparator()
		if !ok {
			break
		}
		list.Operators = append(list.Operators, op)
		p.skipNewlines()
	}
	list.To = p.prevEnd
	return list
}

func (p *Parser) matchSeparator() (ast.ListOp, bool) {
	switch p.tok.Kind {
	case token.ANDIF:
		p.next()
		p.skipNewlines()
		return ast.AndOp, true
	case token.ORIF:
		p.next()
		p.skipNewlines()
		return ast.OrOp, true
	case token.SEMICOLON:
		p.next()
		return ast.SeqOp, true
	case token.AMP:
		p.next()
		return ast.BgOp, true
	case token.NEWLINE:
		p.next()
		return ast.NewlineOp, true
	}
	return 0, false
}

func (p *Parser) synchronize() {
	for p.tok.Kind != token.NEWLINE && p.tok.Kind != token.SEMICOLON && p.tok.Kind != token.EOF {
		p.next()
	}
	if p.tok.Kind != token.EOF {
		p.next()
	}
}

func (p *Parser) skipNewlines() {
	for p.tok.Kind == token.NEWLINE {
		p.next()
	}
}

func (p *Parser) matchTerminator() {
	for p.tok.Kind == token.NEWLINE || p.tok.Kind == token.SEMICOLON {
		p.next()
	}
}

// --- token stream plumbing ---

func (p *Parser) rawNext() token.Token {
	if p.peeked != nil {
		t := *p.peeked
		p.peeked = nil
		return t
	}
	t, err := p.lx.Next()
	if err != nil {
		if le, ok := err.(*lexer.Error); ok {
			p.errs = append(p.errs, &ParseError{Pos: le.Pos, Text: le.Msg})
		} else {
			p.errs = append(p.errs, &ParseError{Text: err.Error()})
		}
		return token.Token{Kind: token.EOF}
	}
	return t
}

func (p *Parser) advance() {
	p.tok = p.rawNext()
	if p.tok.Kind == token.NEWLINE {
		p.flushHeredocs()
	}
}

func (p *Parser) next() {
	p.prevEnd = p.tok.Pos + token.Pos(len(p.tok.Text))
	p.advance()
}

func (p *Parser) peek() token.Token {
	if p.peeked == nil {
		t := p.rawNext()
		p.peeked = &t
	}
	return *p.peeked
}

func (p *Parser) flushHeredocs() {
	for _, h := range p.pendingHD {
		h.r.HereDocBody = *h.body
	}
	p.pendingHD = nil
}

func (p *Parser) errorf(format string, a ...interface{}) {
	p.errs = append(p.errs, &ParseError{Pos: p.lx.Position(p.tok.Pos), Text: fmt.Sprintf(format, a...)})
}

func (p *Parser) atKeyword(kw string) bool {
	return p.tok.Kind == token.WORD && p.tok.Text == kw
}

func (p *Parser) atAnyKeyword(kws ...string) func() bool {
	return func() bool {
		for _, k := range kws {
			if p.atKeyword(k) {
				return true
			}
		}
		return false
	}
}

func (p *Parser) atToken(k token.Kind) func() bool {
	return func() bool { return p.tok.Kind == k }
}

func (p *Parser) expectKeyword(kw string) {
	if p.atKeyword(kw) {
		p.next()
		return
	}
	p.errorf("expected %q", kw)
}

// --- statements ---

func (p *Parser) parseStatement() ast.Node {
	return p.parsePipeline()
}

func (p *Parser) parsePipeline() ast.Node {
	from := p.tok.Pos
	negated := false
	if p.tok.Kind == token.BANG {
		negated = true
		p.next()
	}
	first := p.parseCompoundOrSimple()
	cmds := []ast.Node{first}
	for p.tok.Kind == token.PIPE || p.tok.Kind == token.PIPEALL {
		p.next()
		p.skipNewlines()
		cmds = append(cmds, p.parseCompoundOrSimple())
	}
	if len(cmds) == 1 && !negated {
		return cmds[0]
	}
	return &ast.Pipeline{Commands: cmds, Negated: negated, From: from, To: p.prevEnd}
}

var validNameFirstChar = func(b byte) bool { return isNameStart(b) }

func isValidBareName(s string) bool {
	if s == "" || !validNameFirstChar(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isNameByte(s[i]) {
			return false
		}
	}
	return true
}

func (p *Parser) parseCompoundOrSimple() ast.Node {
	switch p.tok.Kind {
	case token.LBRACE:
		return p.parseGroup()
	case token.LPAREN:
		if p.peek().Kind == token.LPAREN {
			return p.parseArithCommand()
		}
		return p.parseSubshell()
	case token.DLBRACKET:
		return p.parseExtTest()
	case token.WORD:
		if kw, ok := token.Lookup(p.tok.Text); ok {
			switch kw {
			case token.IF:
				return p.parseIf()
			case token.CASE:
				return p.parseCase()
			case token.FOR:
				return p.parseFor()
			case token.WHILE:
				return p.parseWhileUntil(false)
			case token.UNTIL:
				return p.parseWhileUntil(true)
			case token.FUNCTION:
				return p.parseFunctionKeyword()
			}
		}
		if p.tok.Text == "[" {
			return p.parseClassicTest()
		}
		if isValidBareName(p.tok.Text) && p.peek().Kind == token.LPAREN {
			return p.parseFunctionShorthand()
		}
	}
	return p.parseSimpleCommand()
}

// --- simple commands, assignments, redirects ---

func (p *Parser) parseSimpleCommand() *ast.Command {
	cmd := &ast.Command{From: p.tok.Pos}
	for p.tok.Kind == token.ASSIGNWORD {
		cmd.Assigns = append(cmd.Assigns, p.parseAssignment())
	}
	for {
		switch {
		case p.isRedirectStart():
			cmd.Redirects = append(cmd.Redirects, p.parseRedirect())
		case p.tok.Kind == token.WORD || p.tok.Kind == token.ASSIGNWORD:
			w := p.parseWord()
			if cmd.Name == nil {
				cmd.Name = w
			} else {
				cmd.Args = append(cmd.Args, w)
			}
		default:
			cmd.To = p.prevEnd
			return cmd
		}
	}
}

func (p *Parser) parseAssignment() *ast.Assignment {
	text := p.tok.Text
	pos := p.tok.Pos
	eq := strings.IndexByte(text, '=')
	name := text[:eq]
	appended := false
	if strings.HasSuffix(name, "+") {
		appended = true
		name = name[:len(name)-1]
	}
	valueText := text[eq+1:]
	p.next()
	var val *ast.Word
	if p.tok.Kind == token.LPAREN {
		arr := p.parseArrayLiteral()
		val = &ast.Word{Parts: []ast.Node{arr}, From: arr.From, To: arr.To}
	} else {
		vpos := pos + token.Pos(eq+1)
		parts := p.scanParts(valueText, vpos, false)
		val = &ast.Word{Parts: parts, From: vpos, To: pos + token.Pos(len(text))}
	}
	return &ast.Assignment{Name: name, Value: val, Append: appended, From: pos, To: p.prevEnd}
}

func (p *Parser) parseArrayLiteral() *ast.ArrayLiteral {
	from := p.tok.Pos
	p.next() // (
	arr := &ast.ArrayLiteral{From: from}
	for p.tok.Kind != token.RPAREN && p.tok.Kind != token.EOF {
		if p.tok.Kind == token.NEWLINE {
			p.next()
			continue
		}
		w := p.parseWord()
		arr.Elements = append(arr.Elements, w)
		arr.Indexes = append(arr.Indexes, nil)
	}
	if p.tok.Kind == token.RPAREN {
		p.next()
	} else {
		p.errorf("expected ')' to close array literal")
	}
	arr.To = p.prevEnd
	return arr
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isRedirOp(k token.Kind) bool {
	switch k {
	case token.LESS, token.GREAT, token.DGREAT, token.LESSAND, token.GREATAND,
		token.CLOBBER, token.DLESS, token.DLESSDASH, token.TLESS, token.RDRALL,
		token.APPALL, token.LESSLPAREN, token.GREATLPAREN:
		return true
	}
	return false
}

func (p *Parser) isRedirectStart() bool {
	if isRedirOp(p.tok.Kind) {
		return true
	}
	if p.tok.Kind == token.WORD && isAllDigits(p.tok.Text) && isRedirOp(p.peek().Kind) {
		return true
	}
	return false
}

func redirKindFor(k token.Kind) (ast.RedirectKind, bool) {
	switch k {
	case token.LESS:
		return ast.RedirInput, false
	case token.GREAT:
		return ast.RedirOutput, false
	case token.DGREAT:
		return ast.RedirAppend, false
	case token.CLOBBER:
		return ast.RedirClobber, false
	case token.LESSAND:
		return ast.RedirInputDup, false
	case token.GREATAND:
		return ast.RedirOutputDup, false
	case token.DLESS, token.DLESSDASH:
		return ast.RedirHereDoc, false
	case token.TLESS:
		return ast.RedirHereString, false
	case token.RDRALL:
		return ast.RedirBoth, false
	case token.APPALL:
		return ast.RedirBoth, true
	case token.LESSLPAREN:
		return ast.RedirProcSubIn, false
	case token.GREATLPAREN:
		return ast.RedirProcSubOut, false
	}
	return ast.RedirOutput, false
}

func stripTagQuoting(s string) (tag string, quoted bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\'':
			quoted = true
			j := i + 1
			for j < len(s) && s[j] != '\'' {
				b.WriteByte(s[j])
				j++
			}
			i = j
		case '"':
			quoted = true
			j := i + 1
			for j < len(s) && s[j] != '"' {
				if s[j] == '\\' && j+1 < len(s) {
					b.WriteByte(s[j+1])
					j += 2
					continue
				}
				b.WriteByte(s[j])
				j++
			}
			i = j
		case '\\':
			quoted = true
			if i+1 < len(s) {
				b.WriteByte(s[i+1])
				i++
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), quoted
}

func (p *Parser) parseRedirect() *ast.Redirect {
	from := p.tok.Pos
	fd := -1
	fdSet := false
	if p.tok.Kind == token.WORD && isAllDigits(p.tok.Text) {
		fd, _ = strconv.Atoi(p.tok.Text)
		fdSet = true
		p.next()
	}
	opKind := p.tok.Kind
	kind, appendFlag := redirKindFor(opKind)
	p.next()
	r := &ast.Redirect{Kind: kind, FD: fd, FDSet: fdSet, Append: appendFlag, From: from}
	if !fdSet {
		r.FD = ast.DefaultFD(kind)
	}
	switch {
	case kind == ast.RedirHereDoc:
		tagText := p.tok.Text
		tag, quoted := stripTagQuoting(tagText)
		stripTabs := opKind == token.DLESSDASH
		// queue before advancing past the tag, so the lexer reads the body
		// when it crosses the newline that ends this line
		bodyPtr := p.lx.QueueHereDoc(tag, stripTabs, quoted)
		r.StripTabs = stripTabs
		r.Quoted = quoted
		p.pendingHD = append(p.pendingHD, &pendingHD{r: r, body: bodyPtr})
		p.next()
	case opKind == token.LESSLPAREN || opKind == token.GREATLPAREN:
		list := p.parseList(p.atToken(token.RPAREN))
		if p.tok.Kind == token.RPAREN {
			p.next()
		} else {
			p.errorf("expected ')' to close process substitution")
		}
		cs := &ast.CommandSubstitution{List: list, From: from, To: p.prevEnd}
		r.Target = &ast.Word{Parts: []ast.Node{cs}, From: from, To: p.prevEnd}
	default:
		r.Target = p.parseWord()
	}
	r.To = p.prevEnd
	return r
}

// --- compound commands ---

func (p *Parser) parseIf() *ast.If {
	from := p.tok.Pos
	p.next() // if
	cond := p.parseList(func() bool { return p.atKeyword("then") })
	p.expectKeyword("then")
	then := p.parseList(p.atAnyKeyword("elif", "else", "fi"))
	n := &ast.If{Cond: cond, Then: then, From: from}
	for p.atKeyword("elif") {
		p.next()
		ec := p.parseList(func() bool { return p.atKeyword("then") })
		p.expectKeyword("then")
		eb := p.parseList(p.atAnyKeyword("elif", "else", "fi"))
		n.ElifClauses = append(n.ElifClauses, &ast.Elif{Cond: ec, Body: eb})
	}
	if p.atKeyword("else") {
		p.next()
		n.Else = p.parseList(func() bool { return p.atKeyword("fi") })
	}
	p.expectKeyword("fi")
	n.To = p.prevEnd
	return n
}

func (p *Parser) atCaseArmEnd() bool {
	return p.tok.Kind == token.DSEMI || p.tok.Kind == token.SEMIFALL ||
		p.tok.Kind == token.DSEMIFALL || p.atKeyword("esac")
}

func (p *Parser) parseCase() *ast.Case {
	from := p.tok.Pos
	p.next() // case
	word := p.parseWord()
	p.skipNewlines()
	p.expectKeyword("in")
	p.skipNewlines()
	n := &ast.Case{Word: word, From: from}
	for !p.atKeyword("esac") && p.tok.Kind != token.EOF {
		if p.tok.Kind == token.LPAREN {
			p.next()
		}
		arm := &ast.CaseArm{}
		arm.Patterns = append(arm.Patterns, p.parseWord())
		for p.tok.Kind == token.PIPE {
			p.next()
			arm.Patterns = append(arm.Patterns, p.parseWord())
		}
		if p.tok.Kind == token.RPAREN {
			p.next()
		} else {
			p.errorf("expected ')' after case pattern")
		}
		p.skipNewlines()
		arm.Body = p.parseList(p.atCaseArmEnd)
		switch p.tok.Kind {
		case token.DSEMI:
			arm.Term = ast.TermBreak
			p.next()
		case token.SEMIFALL:
			arm.Term = ast.TermFall
			p.next()
		case token.DSEMIFALL:
			arm.Term = ast.TermContinue
			p.next()
		default:
			arm.Term = ast.TermBreak
		}
		p.skipNewlines()
		n.Arms = append(n.Arms, arm)
	}
	p.expectKeyword("esac")
	n.To = p.prevEnd
	return n
}

func (p *Parser) parseFor() ast.Node {
	from := p.tok.Pos
	p.next() // for
	if p.tok.Kind == token.LPAREN && p.peek().Kind == token.LPAREN {
		return p.parseForC(from)
	}
	name := p.tok.Text
	p.next() // NAME
	var words []*ast.Word
	p.matchTerminator()
	if p.atKeyword("in") {
		p.next()
		for p.tok.Kind == token.WORD || p.tok.Kind == token.ASSIGNWORD {
			words = append(words, p.parseWord())
		}
		p.matchTerminator()
	}
	p.skipNewlines()
	p.expectKeyword("do")
	body := p.parseList(func() bool { return p.atKeyword("done") })
	p.expectKeyword("done")
	return &ast.For{Var: name, Words: words, Body: body, From: from, To: p.prevEnd}
}

func splitTopLevelByte(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func (p *Parser) parseForC(from token.Pos) ast.Node {
	p.next() // consumes first '(' (p.tok becomes the buffered second '(')
	raw, err := p.lx.ScanRawArith()
	if err != nil {
		p.errs = append(p.errs, err)
	}
	p.peeked = nil
	p.next() // fresh token after "))"
	n := &ast.ForC{}
	clauses := splitTopLevelByte(raw, ';')
	if len(clauses) == 3 {
		if s := strings.TrimSpace(clauses[0]); s != "" {
			n.Init = &ast.Arithmetic{Expr: p.parseArithExpr(s, from)}
		}
		if s := strings.TrimSpace(clauses[1]); s != "" {
			n.Cond = &ast.Arithmetic{Expr: p.parseArithExpr(s, from)}
		}
		if s := strings.TrimSpace(clauses[2]); s != "" {
			n.Update = &ast.Arithmetic{Expr: p.parseArithExpr(s, from)}
		}
	}
	p.matchTerminator()
	p.skipNewlines()
	p.expectKeyword("do")
	n.Body = p.parseList(func() bool { return p.atKeyword("done") })
	p.expectKeyword("done")
	n.From, n.To = from, p.prevEnd
	return n
}

func (p *Parser) parseArithCommand() *ast.Arithmetic {
	from := p.tok.Pos
	p.next() // consumes first '(' (p.tok becomes the buffered second '(')
	raw, err := p.lx.ScanRawArith()
	if err != nil {
		p.errs = append(p.errs, err)
	}
	p.peeked = nil
	p.next()
	expr := p.parseArithExpr(raw, from+2)
	return &ast.Arithmetic{Expr: expr, From: from, To: p.prevEnd}
}

func (p *Parser) parseWhileUntil(until bool) ast.Node {
	from := p.tok.Pos
	p.next()
	cond := p.parseList(func() bool { return p.atKeyword("do") })
	p.expectKeyword("do")
	body := p.parseList(func() bool { return p.atKeyword("done") })
	p.expectKeyword("done")
	if until {
		return &ast.Until{Cond: cond, Body: body, From: from, To: p.prevEnd}
	}
	return &ast.While{Cond: cond, Body: body, From: from, To: p.prevEnd}
}

func (p *Parser) parseFunctionKeyword() *ast.Function {
	from := p.tok.Pos
	p.next() // function
	name := p.tok.Text
	p.next()
	if p.tok.Kind == token.LPAREN {
		p.next()
		if p.tok.Kind == token.RPAREN {
			p.next()
		}
	}
	p.skipNewlines()
	body := p.parseCompoundOrSimple()
	return &ast.Function{Name: name, Body: body, From: from, To: p.prevEnd}
}

func (p *Parser) parseFunctionShorthand() *ast.Function {
	from := p.tok.Pos
	name := p.tok.Text
	p.next() // name
	p.next() // (
	if p.tok.Kind == token.RPAREN {
		p.next()
	} else {
		p.errorf("expected ')' in function definition")
	}
	p.skipNewlines()
	body := p.parseCompoundOrSimple()
	return &ast.Function{Name: name, Body: body, From: from, To: p.prevEnd}
}

func (p *Parser) parseSubshell() *ast.Subshell {
	from := p.tok.Pos
	p.next() // (
	body := p.parseList(p.atToken(token.RPAREN))
	if p.tok.Kind == token.RPAREN {
		p.next()
	} else {
		p.errorf("expected ')' to close subshell")
	}
	return &ast.Subshell{List: body, From: from, To: p.prevEnd}
}

func (p *Parser) parseGroup() *ast.Group {
	from := p.tok.Pos
	p.next() // {
	body := p.parseList(p.atToken(token.RBRACE))
	if p.tok.Kind == token.RBRACE {
		p.next()
	} else {
		p.errorf("expected '}' to close group")
	}
	return &ast.Group{List: body, From: from, To: p.prevEnd}
}

func (p *Parser) parseExtTest() *ast.Test {
	from := p.tok.Pos
	p.next() // [[
	expr := p.parseTestBody(true, func() bool { return p.tok.Kind == token.DRBRACKET || p.tok.Kind == token.EOF })
	to := p.prevEnd
	if p.tok.Kind == token.DRBRACKET {
		p.next()
	} else {
		p.errorf("expected ']]'")
	}
	return &ast.Test{Expr: expr, Extended: true, From: from, To: to}
}

func (p *Parser) parseClassicTest() *ast.Test {
	from := p.tok.Pos
	p.next() // '[' word
	expr := p.parseTestBody(false, p.atClassicTestEnd)
	to := p.prevEnd
	if p.curWordIs("]") {
		p.next()
	} else {
		p.errorf("expected ']'")
	}
	return &ast.Test{Expr: expr, Extended: false, From: from, To: to}
}

func (p *Parser) atClassicTestEnd() bool {
	return p.curWordIs("]") || p.tok.Kind == token.EOF
}

// --- words ---

func detectBraceExpansion(s string) *ast.BraceExpansion {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if i > 0 && s[i-1] == '$' {
			continue
		}
		end := findBalanced(s, i, '{', '}')
		if end >= len(s) {
			continue
		}
		inner := s[i+1 : end]
		if inner == "" {
			continue
		}
		prefix := s[:i]
		suffix := s[end+1:]
		if strings.Contains(inner, "..") && !strings.Contains(inner, ",") {
			parts := strings.SplitN(inner, "..", 3)
			if len(parts) >= 2 {
				be := &ast.BraceExpansion{Prefix: prefix, Suffix: suffix, IsSeq: true, SeqFrom: parts[0], SeqTo: parts[1]}
				if len(parts) == 3 {
					be.SeqStep = parts[2]
				}
				return be
			}
		}
		if strings.Contains(inner, ",") {
			return &ast.BraceExpansion{Prefix: prefix, Suffix: suffix, Items: splitTopLevelByte(inner, ',')}
		}
	}
	return nil
}

func (p *Parser) parseWord() *ast.Word {
	tok := p.tok
	pos := tok.Pos
	text := tok.Text
	p.next()
	if be := detectBraceExpansion(text); be != nil {
		be.From = pos
		be.To = pos + token.Pos(len(text))
		return &ast.Word{Parts: []ast.Node{be}, From: pos, To: be.To}
	}
	parts := p.scanParts(text, pos, false)
	return &ast.Word{Parts: parts, From: pos, To: pos + token.Pos(len(text))}
}
