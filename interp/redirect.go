package interp

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/raphamorim/flash/ast"
	"github.com/raphamorim/flash/parser"
)

// fd returns the current file backing descriptor n, honoring any
// redirection already applied earlier in the same command's list.
func (r *Runner) fd(n int) *os.File {
	switch n {
	case 0:
		return r.Stdin
	case 1:
		return r.Stdout
	case 2:
		return r.Stderr
	default:
		if r.extra == nil {
			return nil
		}
		return r.extra[n]
	}
}

func (r *Runner) setFD(n int, f *os.File) {
	switch n {
	case 0:
		r.Stdin = f
	case 1:
		r.Stdout = f
	case 2:
		r.Stderr = f
	default:
		if r.extra == nil {
			r.extra = make(map[int]*os.File)
		}
		r.extra[n] = f
	}
}

// applyRedirects installs c.Redirects on the runner's fd table in order
// and returns a func that restores the previous table, once the command
// they apply to completes.
func (r *Runner) applyRedirects(rs []*ast.Redirect) (func(), error) {
	if len(rs) == 0 {
		return func() {}, nil
	}
	type saved struct {
		fd int
		f  *os.File
	}
	var prior []saved
	var opened []*os.File

	restore := func() {
		for _, f := range opened {
			f.Close()
		}
		for i := len(prior) - 1; i >= 0; i-- {
			r.setFD(prior[i].fd, prior[i].f)
		}
	}

	for _, rd := range rs {
		prior = append(prior, saved{rd.FD, r.fd(rd.FD)})
		if err := r.applyOne(rd, &opened); err != nil {
			restore()
			return nil, err
		}
	}
	return restore, nil
}

func (r *Runner) applyOne(rd *ast.Redirect, opened *[]*os.File) error {
	switch rd.Kind {
	case ast.RedirInput:
		path, err := r.expander().ExpandToString(rd.Target)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*opened = append(*opened, f)
		r.setFD(rd.FD, f)
	case ast.RedirOutput, ast.RedirClobber:
		path, err := r.expander().ExpandToString(rd.Target)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*opened = append(*opened, f)
		r.setFD(rd.FD, f)
	case ast.RedirAppend:
		path, err := r.expander().ExpandToString(rd.Target)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*opened = append(*opened, f)
		r.setFD(rd.FD, f)
	case ast.RedirInputOutput:
		path, err := r.expander().ExpandToString(rd.Target)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*opened = append(*opened, f)
		r.setFD(rd.FD, f)
	case ast.RedirBoth:
		path, err := r.expander().ExpandToString(rd.Target)
		if err != nil {
			return err
		}
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if rd.Append {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err := os.OpenFile(path, flags, 0644)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*opened = append(*opened, f)
		r.setFD(1, f)
		r.setFD(2, f)
	case ast.RedirInputDup, ast.RedirOutputDup:
		text, err := r.expander().ExpandToString(rd.Target)
		if err != nil {
			return err
		}
		if text == "-" {
			r.setFD(rd.FD, nil)
			return nil
		}
		n, err := strconv.Atoi(text)
		if err != nil {
			return fmt.Errorf("invalid fd duplication target %q", text)
		}
		r.setFD(rd.FD, r.fd(n))
	case ast.RedirHereDoc:
		body := rd.HereDocBody
		if !rd.Quoted {
			w := &ast.Word{Parts: parser.ScanWordText(body, true)}
			body, err := r.expander().ExpandToString(w)
			if err != nil {
				return err
			}
			f, err := pipeWith(body)
			if err != nil {
				return err
			}
			*opened = append(*opened, f)
			r.setFD(rd.FD, f)
			return nil
		}
		f, err := pipeWith(body)
		if err != nil {
			return err
		}
		*opened = append(*opened, f)
		r.setFD(rd.FD, f)
	case ast.RedirHereString:
		s, err := r.expander().ExpandToString(rd.Target)
		if err != nil {
			return err
		}
		f, err := pipeWith(s + "\n")
		if err != nil {
			return err
		}
		*opened = append(*opened, f)
		r.setFD(rd.FD, f)
	case ast.RedirProcSubIn, ast.RedirProcSubOut:
		return r.applyProcSub(rd, opened)
	default:
		return fmt.Errorf("unsupported redirection kind %v", rd.Kind)
	}
	return nil
}

// pipeWith writes s into a pipe and returns the read end, used for
// here-documents and here-strings, which bash materializes as an
// anonymous file the command reads from on fd 0.
func pipeWith(s string) (*os.File, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	go func() {
		io.WriteString(pw, s)
		pw.Close()
	}()
	return pr, nil
}

// applyProcSub runs rd.Target's embedded command list against a pipe,
// exposing the pipe's path as /dev/fd/N-style target isn't available
// portably; instead the pipe end is installed directly on rd.FD, which
// covers the common "cmd <(other)" case where the outer command reads
// the substitution through a redirected descriptor rather than a path
// argument.
func (r *Runner) applyProcSub(rd *ast.Redirect, opened *[]*os.File) error {
	cs, ok := rd.Target.Parts[0].(*ast.CommandSubstitution)
	if !ok {
		return fmt.Errorf("malformed process substitution")
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}
	sub := r.subshell()
	if rd.Kind == ast.RedirProcSubIn {
		sub.Stdout = pw
		go func() {
			sub.eval(context.Background(), cs.List)
			pw.Close()
		}()
		*opened = append(*opened, pr)
		r.setFD(rd.FD, pr)
	} else {
		sub.Stdin = pr
		go func() {
			sub.eval(context.Background(), cs.List)
			pr.Close()
		}()
		*opened = append(*opened, pw)
		r.setFD(rd.FD, pw)
	}
	return nil
}
