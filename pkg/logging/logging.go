// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides the structured logger used across mediacall.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the structured logging interface used throughout mediacall.
// WithValues-style chaining lets call sites read as
// "log.WithValues(...).Infow(...)" regardless of how many key/value pairs
// are attached along the way.
type Logger interface {
	WithValues(kv ...interface{}) Logger
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, err error, kv ...interface{})
	Errorw(msg string, err error, kv ...interface{})
}

type zapLogger struct {
	l *zap.SugaredLogger
}

// New wraps a *zap.Logger as a Logger.
func New(l *zap.Logger) Logger {
	return &zapLogger{l: l.Sugar()}
}

// NewDevelopment returns a Logger suitable for local/CLI use.
func NewDevelopment() (Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return New(l), nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() Logger {
	return New(zap.NewNop())
}

func (z *zapLogger) WithValues(kv ...interface{}) Logger {
	return &zapLogger{l: z.l.With(kv...)}
}

func (z *zapLogger) Debugw(msg string, kv ...interface{}) {
	z.l.Debugw(msg, kv...)
}

func (z *zapLogger) Infow(msg string, kv ...interface{}) {
	z.l.Infow(msg, kv...)
}

func (z *zapLogger) Warnw(msg string, err error, kv ...interface{}) {
	if err != nil {
		kv = append(kv, "error", err)
	}
	z.l.Warnw(msg, kv...)
}

func (z *zapLogger) Errorw(msg string, err error, kv ...interface{}) {
	if err != nil {
		kv = append(kv, "error", err)
	}
	z.l.Errorw(msg, kv...)
}
