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

// Package cerr provides chirp's error taxonomy: a numeric status code
// classification (similar in spirit to HTTP status codes) plus an Error
// type carrying a parent chain and a capture stack frame.
package cerr

import (
	"fmt"
	"runtime"
)

// Code is chirp's status taxonomy, surfaced to send/finish callbacks and
// returned from every public entry point.
type Code uint16

const (
	Success Code = iota
	ValueError
	UVError
	ProtocolError
	EAddrInUse
	Fatal
	TLSError
	WriteError
	Uninit
	InProgress
	Timeout
	ENoMem
	Shutdown
	CannotConnect
	Queued
	Used
	More
	Busy
	Empty
	InitFail
)

var names = map[Code]string{
	Success:       "success",
	ValueError:    "value error",
	UVError:       "event loop error",
	ProtocolError: "protocol error",
	EAddrInUse:    "address in use",
	Fatal:         "fatal",
	TLSError:      "tls error",
	WriteError:    "write error",
	Uninit:        "uninitialized",
	InProgress:    "in progress",
	Timeout:       "timeout",
	ENoMem:        "out of memory",
	Shutdown:      "shutdown",
	CannotConnect: "cannot connect",
	Queued:        "queued",
	Used:          "message already used",
	More:          "more",
	Busy:          "busy",
	Empty:         "empty",
	InitFail:      "initialization failed",
}

// String returns the human-readable name of the code.
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "unknown error"
}

// Error builds a new Error rooted at this code, chaining the given parents.
func (c Code) Error(parent ...error) Error {
	return newError(c, c.String(), parent...)
}

// Errorf builds a new Error rooted at this code with a formatted message.
func (c Code) Errorf(pattern string, args ...interface{}) Error {
	return newError(c, fmt.Sprintf(pattern, args...))
}

// Is reports whether err carries this code anywhere in its chain.
func (c Code) Is(err error) bool {
	return Has(err, c)
}

func getFrame() runtime.Frame {
	pc := make([]uintptr, 1)
	n := runtime.Callers(3, pc)
	if n == 0 {
		return runtime.Frame{}
	}
	frame, _ := runtime.CallersFrames(pc[:n]).Next()
	return frame
}
