/*
 * MIT License
 *
 * Copyright (c) 2024 the chirp authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package cerr

import (
	"errors"
	"runtime"
	"strings"
)

// Error extends the standard error interface with a status Code and a
// parent chain, so a connection-shutdown reason can be traced back to the
// I/O failure that caused it.
type Error interface {
	error

	Code() Code
	Is(code Code) bool
	Has(code Code) bool

	Add(parent ...error) Error
	Parents() []error

	Unwrap() []error
}

type ers struct {
	code Code
	msg  string
	parents []error
	frame   runtime.Frame
}

func newError(code Code, msg string, parent ...error) Error {
	return &ers{
		code:    code,
		msg:     msg,
		parents: filterNil(parent),
		frame:   getFrame(),
	}
}

func filterNil(in []error) []error {
	out := make([]error, 0, len(in))
	for _, e := range in {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (e *ers) Error() string {
	if len(e.parents) == 0 {
		return e.msg
	}

	parts := make([]string, 0, len(e.parents)+1)
	parts = append(parts, e.msg)
	for _, p := range e.parents {
		parts = append(parts, p.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ers) Code() Code { return e.code }

func (e *ers) Is(code Code) bool { return e.code == code }

func (e *ers) Has(code Code) bool {
	if e.code == code {
		return true
	}
	for _, p := range e.parents {
		var ce Error
		if errors.As(p, &ce) && ce.Has(code) {
			return true
		}
	}
	return false
}

func (e *ers) Add(parent ...error) Error {
	e.parents = append(e.parents, filterNil(parent)...)
	return e
}

func (e *ers) Parents() []error { return e.parents }

func (e *ers) Unwrap() []error { return e.parents }

// New wraps a plain error with the given status code, unless it already
// carries a code, in which case that Error is returned unchanged.
func New(code Code, err error) Error {
	if err == nil {
		return nil
	}

	var e Error
	if errors.As(err, &e) {
		return e
	}

	return newError(code, err.Error())
}

// Is reports whether err is (or wraps) a cerr.Error.
func Is(err error) bool {
	var e Error
	return errors.As(err, &e)
}

// Get returns err as a cerr.Error, or nil if it isn't one.
func Get(err error) Error {
	var e Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Has reports whether err carries the given code anywhere in its chain.
func Has(err error, code Code) bool {
	if e := Get(err); e != nil {
		return e.Has(code)
	}
	return false
}
