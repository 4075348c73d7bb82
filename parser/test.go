package parser

import (
	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/token"
)

var unaryTestOps = map[string]ast.UnTestOp{
	"-e": ast.TsExists, "-f": ast.TsRegFile, "-d": ast.TsDirect,
	"-c": ast.TsCharSp, "-b": ast.TsBlckSp, "-p": ast.TsNmPipe,
	"-S": ast.TsSocket, "-L": ast.TsSymLink, "-h": ast.TsSymLink,
	"-g": ast.TsGIDSet, "-u": ast.TsUIDSet, "-r": ast.TsRead,
	"-w": ast.TsWrite, "-x": ast.TsExec, "-s": ast.TsNoEmpty,
	"-t": ast.TsFdTerm, "-z": ast.TsEmpStr, "-n": ast.TsNempStr,
	"-o": ast.TsOptSet, "-v": ast.TsVarSet,
}

var binaryTestOps = map[string]ast.BinTestOp{
	"==": ast.TsEq, "=": ast.TsEq, "!=": ast.TsNe, "=~": ast.TsReMatch,
	"-eq": ast.TsEql, "-ne": ast.TsNeq, "-le": ast.TsLeq, "-ge": ast.TsGeq,
	"-lt": ast.TsLss, "-gt": ast.TsGtr, "-nt": ast.TsNewer, "-ot": ast.TsOlder,
	"-ef": ast.TsDevIno,
}

// parseTestBody parses the sequence of words/operators up to (but not
// consuming) a terminator token recognized by atEnd, building a Test
// expression tree. Used for both "[ ... ]" (extended=false, where -a/-o
// are the logical combinators) and "[[ ... ]]" (extended=true, where
// &&/|| are, and =~ / pattern matching are available).
func (p *Parser) parseTestBody(extended bool, atEnd func() bool) ast.TestExpr {
	return p.testOr(extended, atEnd)
}

func (p *Parser) testOr(extended bool, atEnd func() bool) ast.TestExpr {
	x := p.testAnd(extended, atEnd)
	for !atEnd() {
		if extended && p.tok.Kind == token.ORIF {
			p.next()
		} else if !extended && p.curWordIs("-o") {
			p.next()
		} else {
			break
		}
		y := p.testAnd(extended, atEnd)
		x = &ast.BinaryTest{Op: ast.TsOr, X: x, Y: y, From: x.Pos(), To: y.End()}
	}
	return x
}

func (p *Parser) testAnd(extended bool, atEnd func() bool) ast.TestExpr {
	x := p.testNot(extended, atEnd)
	for !atEnd() {
		if extended && p.tok.Kind == token.ANDIF {
			p.next()
		} else if !extended && p.curWordIs("-a") {
			p.next()
		} else {
			break
		}
		y := p.testNot(extended, atEnd)
		x = &ast.BinaryTest{Op: ast.TsAnd, X: x, Y: y, From: x.Pos(), To: y.End()}
	}
	return x
}

func (p *Parser) testNot(extended bool, atEnd func() bool) ast.TestExpr {
	if p.tok.Kind == token.BANG {
		from := p.tok.Pos
		p.next()
		x := p.testNot(extended, atEnd)
		return &ast.Negation{X: x, From: from, To: x.End()}
	}
	return p.testPrimary(extended, atEnd)
}

func (p *Parser) testPrimary(extended bool, atEnd func() bool) ast.TestExpr {
	if p.tok.Kind == token.LPAREN {
		from := p.tok.Pos
		p.next()
		x := p.testOr(extended, func() bool { return p.tok.Kind == token.RPAREN })
		to := p.tok.Pos
		if p.tok.Kind == token.RPAREN {
			p.next()
		}
		return &ast.ParenTest{X: x, From: from, To: to}
	}

	if p.tok.Kind != token.WORD && p.tok.Kind != token.ASSIGNWORD {
		from := p.tok.Pos
		p.next()
		return &ast.UnaryTest{Op: ast.TsNempStr, X: &ast.Word{From: from, To: from}, From: from, To: from}
	}

	lit := p.tok.Text
	if op, ok := unaryTestOps[lit]; ok && looksLikeBareOp(lit) {
		from := p.tok.Pos
		p.next()
		operand := p.parseWord()
		return &ast.UnaryTest{Op: op, X: operand, From: from, To: operand.End()}
	}

	x := p.parseWord()
	if !atEnd() {
		if p.tok.Kind == token.WORD {
			if op, ok := binaryTestOps[p.tok.Text]; ok {
				p.next()
				y := p.parseWord()
				return &ast.BinaryTest{Op: op, X: x, Y: y, From: x.Pos(), To: y.End()}
			}
		} else if p.tok.Kind == token.ASSIGN {
			p.next()
			y := p.parseWord()
			return &ast.BinaryTest{Op: ast.TsEq, X: x, Y: y, From: x.Pos(), To: y.End()}
		}
	}
	return &ast.UnaryTest{Op: ast.TsNempStr, X: x, From: x.Pos(), To: x.End()}
}

func looksLikeBareOp(s string) bool {
	return len(s) == 2 && s[0] == '-'
}

func (p *Parser) curWordIs(s string) bool {
	return p.tok.Kind == token.WORD && p.tok.Text == s
}
