package interp

import (
	"context"
	"os"
	"regexp"
	"strconv"

	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/pattern"
)

func regexpMatch(pat, s string) (bool, error) {
	re, err := regexp.Compile(pat)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}

// evalTest evaluates a [ ... ] or [[ ... ]] test command, returning the
// conventional 0 (true) / 1 (false) exit status.
func (r *Runner) evalTest(ctx context.Context, t *ast.Test) (int, error) {
	ok, err := r.evalTestExpr(ctx, t.Expr)
	if err != nil {
		return 2, err
	}
	if ok {
		return 0, nil
	}
	return 1, nil
}

func (r *Runner) evalTestExpr(ctx context.Context, e ast.TestExpr) (bool, error) {
	switch x := e.(type) {
	case *ast.ParenTest:
		return r.evalTestExpr(ctx, x.X)
	case *ast.Negation:
		ok, err := r.evalTestExpr(ctx, x.X.(ast.TestExpr))
		return !ok, err
	case *ast.UnaryTest:
		return r.evalUnaryTest(x)
	case *ast.BinaryTest:
		return r.evalBinaryTest(ctx, x)
	case *ast.Word:
		s, err := r.expander().ExpandToString(x)
		if err != nil {
			return false, err
		}
		return s != "", nil
	default:
		return false, nil
	}
}

func (r *Runner) evalUnaryTest(u *ast.UnaryTest) (bool, error) {
	s, err := r.expander().ExpandToString(u.X)
	if err != nil {
		return false, err
	}
	switch u.Op {
	case ast.TsEmpStr:
		return s == "", nil
	case ast.TsNempStr:
		return s != "", nil
	case ast.TsVarSet:
		return r.Env.Get(s).IsSet(), nil
	case ast.TsOptSet:
		if len(s) == 1 {
			return r.Env.Opt(s[0]), nil
		}
		return r.Env.LongOpt(s), nil
	case ast.TsExists:
		_, err := r.Env.Fs.Stat(r.absPath(s))
		return err == nil, nil
	case ast.TsRegFile:
		info, err := r.Env.Fs.Stat(r.absPath(s))
		return err == nil && info.Mode().IsRegular(), nil
	case ast.TsDirect:
		info, err := r.Env.Fs.Stat(r.absPath(s))
		return err == nil && info.IsDir(), nil
	case ast.TsSymLink:
		info, err := os.Lstat(r.absPath(s))
		return err == nil && info.Mode()&os.ModeSymlink != 0, nil
	case ast.TsCharSp:
		info, err := r.Env.Fs.Stat(r.absPath(s))
		return err == nil && info.Mode()&os.ModeCharDevice != 0, nil
	case ast.TsBlckSp:
		info, err := r.Env.Fs.Stat(r.absPath(s))
		return err == nil && info.Mode()&os.ModeDevice != 0, nil
	case ast.TsNmPipe:
		info, err := r.Env.Fs.Stat(r.absPath(s))
		return err == nil && info.Mode()&os.ModeNamedPipe != 0, nil
	case ast.TsSocket:
		info, err := r.Env.Fs.Stat(r.absPath(s))
		return err == nil && info.Mode()&os.ModeSocket != 0, nil
	case ast.TsNoEmpty:
		info, err := r.Env.Fs.Stat(r.absPath(s))
		return err == nil && info.Size() > 0, nil
	case ast.TsRead, ast.TsWrite, ast.TsExec:
		info, err := r.Env.Fs.Stat(r.absPath(s))
		if err != nil {
			return false, nil
		}
		mode := info.Mode().Perm()
		switch u.Op {
		case ast.TsRead:
			return mode&0444 != 0, nil
		case ast.TsWrite:
			return mode&0222 != 0, nil
		default:
			return mode&0111 != 0, nil
		}
	case ast.TsFdTerm:
		n, err := strconv.Atoi(s)
		if err != nil {
			return false, nil
		}
		f := r.fd(n)
		if f == nil {
			return false, nil
		}
		info, err := f.Stat()
		return err == nil && info.Mode()&os.ModeCharDevice != 0, nil
	case ast.TsGIDSet:
		info, err := r.Env.Fs.Stat(r.absPath(s))
		return err == nil && info.Mode()&os.ModeSetgid != 0, nil
	case ast.TsUIDSet:
		info, err := r.Env.Fs.Stat(r.absPath(s))
		return err == nil && info.Mode()&os.ModeSetuid != 0, nil
	default:
		return false, nil
	}
}

func (r *Runner) absPath(p string) string {
	if p == "" || p[0] == '/' {
		return p
	}
	return r.Env.Dir + "/" + p
}

func (r *Runner) evalBinaryTest(ctx context.Context, b *ast.BinaryTest) (bool, error) {
	if b.Op == ast.TsAnd || b.Op == ast.TsOr {
		left, err := r.evalTestExpr(ctx, b.X)
		if err != nil {
			return false, err
		}
		if b.Op == ast.TsAnd && !left {
			return false, nil
		}
		if b.Op == ast.TsOr && left {
			return true, nil
		}
		return r.evalTestExpr(ctx, b.Y)
	}

	xw, xok := b.X.(*ast.Word)
	yw, yok := b.Y.(*ast.Word)
	if !xok || !yok {
		return false, nil
	}
	ex := r.expander()
	xs, err := ex.ExpandToString(xw)
	if err != nil {
		return false, err
	}

	switch b.Op {
	case ast.TsEq:
		pat, err := ex.ExpandPattern(yw)
		if err != nil {
			return false, err
		}
		return pattern.Match(pat, xs)
	case ast.TsNe:
		pat, err := ex.ExpandPattern(yw)
		if err != nil {
			return false, err
		}
		ok, err := pattern.Match(pat, xs)
		return !ok, err
	case ast.TsReMatch:
		ys, err := ex.ExpandToString(yw)
		if err != nil {
			return false, err
		}
		return regexpMatch(ys, xs)
	case ast.TsLt:
		ys, err := ex.ExpandToString(yw)
		if err != nil {
			return false, err
		}
		return xs < ys, nil
	case ast.TsGt:
		ys, err := ex.ExpandToString(yw)
		if err != nil {
			return false, err
		}
		return xs > ys, nil
	}

	ys, err := ex.ExpandToString(yw)
	if err != nil {
		return false, err
	}
	if b.Op == ast.TsNewer || b.Op == ast.TsOlder || b.Op == ast.TsDevIno {
		xi, errX := r.Env.Fs.Stat(r.absPath(xs))
		yi, errY := r.Env.Fs.Stat(r.absPath(ys))
		if errX != nil || errY != nil {
			return false, nil
		}
		switch b.Op {
		case ast.TsNewer:
			return xi.ModTime().After(yi.ModTime()), nil
		case ast.TsOlder:
			return xi.ModTime().Before(yi.ModTime()), nil
		default:
			return os.SameFile(xi, yi), nil
		}
	}

	xn, errX := strconv.ParseInt(xs, 10, 64)
	yn, errY := strconv.ParseInt(ys, 10, 64)
	if errX != nil || errY != nil {
		return false, nil
	}
	switch b.Op {
	case ast.TsEql:
		return xn == yn, nil
	case ast.TsNeq:
		return xn != yn, nil
	case ast.TsLeq:
		return xn <= yn, nil
	case ast.TsGeq:
		return xn >= yn, nil
	case ast.TsLss:
		return xn < yn, nil
	case ast.TsGtr:
		return xn > yn, nil
	}
	return false, nil
}
