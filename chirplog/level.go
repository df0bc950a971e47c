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

// Package chirplog provides the leveled, structured logging surface chirp's
// core logs through. It is a thin logrus wrapper so a host application can
// supply its own sink via the chirp Node's SetLogCallback without chirp depending on
// any particular log backend shape.
package chirplog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Level mirrors the severity scale a host log sink is likely to expect.
type Level uint8

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	NilLevel
)

func (l Level) logrus() logrus.Level {
	switch l {
	case PanicLevel:
		return logrus.PanicLevel
	case FatalLevel:
		return logrus.FatalLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case WarnLevel:
		return logrus.WarnLevel
	case InfoLevel:
		return logrus.InfoLevel
	case DebugLevel:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Func is the callback shape a host application registers to receive
// chirp's log entries (spec.md §6 `log_cb`).
type Func func(level Level, fields map[string]interface{}, msg string)

// Logger is the structured logger every chirp component logs through.
type Logger struct {
	entry *logrus.Entry
	hook  Func
}

// New builds a Logger backed by logrus, writing to out at the given level.
// A nil out defaults to io.Discard (silent unless a Func hook is set).
func New(level Level, out io.Writer) *Logger {
	l := logrus.New()
	if out == nil {
		out = io.Discard
	}
	l.SetOutput(out)
	l.SetLevel(level.logrus())
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &Logger{entry: logrus.NewEntry(l)}
}

// SetHook installs (or clears, with nil) the host callback invoked for
// every log entry in addition to the logrus sink.
func (l *Logger) SetHook(fn Func) {
	l.hook = fn
}

// With returns a child logger carrying the given structured fields.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields), hook: l.hook}
}

func (l *Logger) log(level Level, msg string) {
	l.entry.Log(level.logrus(), msg)
	if l.hook != nil {
		fields := make(map[string]interface{}, len(l.entry.Data))
		for k, v := range l.entry.Data {
			fields[k] = v
		}
		l.hook(level, fields, msg)
	}
}

func (l *Logger) Debug(msg string) { l.log(DebugLevel, msg) }
func (l *Logger) Info(msg string)  { l.log(InfoLevel, msg) }
func (l *Logger) Warn(msg string)  { l.log(WarnLevel, msg) }
func (l *Logger) Error(msg string) { l.log(ErrorLevel, msg) }

// Discard returns a Logger that drops everything — the default when a
// host does not register a callback via the chirp Node's SetLogCallback.
func Discard() *Logger {
	return New(NilLevel, io.Discard)
}
