package ir

import (
	"errors"
	"fmt"
)

// ErrUnsupported marks constructs a pass refuses to lower. Callers test for it
// with errors.Is.
var ErrUnsupported = errors.New("unsupported")

// PassError is a fatal failure of one pipeline stage on one function.
type PassError struct {
	Pass  string
	Func  string
	Instr string
	Msg   string
	Err   error
}

func (e *PassError) Error() string {
	s := fmt.Sprintf("%s: in function '%s': %s", e.Pass, e.Func, e.Msg)
	if e.Instr != "" { s += ": " + e.Instr }
	return s
}

func (e *PassError) Unwrap() error { return e.Err }

// Errorf builds a PassError for mi, which may be nil.
func Errorf(pass string, f *Func, mi *Instr, format string, args ...any) *PassError {
	e := &PassError{Pass: pass, Msg: fmt.Sprintf(format, args...)}
	if f != nil { e.Func = f.Name }
	if mi != nil { e.Instr = PrintInstr(mi, f, nil) }
	for _, a := range args {
		if err, ok := a.(error); ok { e.Err = err; break }
	}
	return e
}
