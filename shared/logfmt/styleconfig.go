/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package logfmt

import "github.com/muesli/termenv"

type StyleOption interface {
	apply(*StyleConfig)
}

type scopt func(*StyleConfig)

func (o scopt) apply(f *StyleConfig) {
	o(f)
}

type StyleConfig struct {
	PanicForeground termenv.Color
	PanicBackground termenv.Color
	PanicStyle      TextStyle
	FatalForeground termenv.Color
	FatalBackground termenv.Color
	FatalStyle      TextStyle
	ErrorForeground termenv.Color
	ErrorBackground termenv.Color
	ErrorStyle      TextStyle
	WarnForeground  termenv.Color
	WarnBackground  termenv.Color
	WarnStyle       TextStyle
	InfoForeground  termenv.Color
	InfoBackground  termenv.Color
	InfoStyle       TextStyle
	DebugForeground termenv.Color
	DebugBackground termenv.Color
	DebugStyle      TextStyle
	TraceForeground termenv.Color
	TraceBackground termenv.Color
	TraceStyle      TextStyle
}

var defaultStyle = StyleConfig{
	PanicForeground: termenv.ANSIBrightWhite,
	PanicBackground: termenv.ANSIBrightRed,
	PanicStyle:      TextStyle{}.Bold().Blink(),
	FatalForeground: termenv.ANSIBrightRed,
	FatalStyle:      TextStyle{}.Bold(),
	ErrorForeground: termenv.ANSIRed,
	ErrorStyle:      TextStyle{}.Bold(),
	WarnForeground:  termenv.ANSIYellow,
	WarnStyle:       TextStyle{}.Bold(),
	InfoForeground:  termenv.ANSICyan,
	InfoStyle:       TextStyle{}.Bold(),
	DebugForeground: termenv.ANSIGreen,
	DebugStyle:      TextStyle{}.Bold(),
	TraceForeground: termenv.ANSIWhite,
	TraceStyle:      TextStyle{}.Bold(),
}

func NewStyle(options ...StyleOption) StyleConfig {
	style := defaultStyle

	for _, opt := range options {
		opt.apply(&style)
	}

	return style
}

func WithPanicForeground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.PanicForeground = color
	})
}

func WithPanicBackground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.PanicBackground = color
	})
}

func WithPanicStyle(style TextStyle) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.PanicStyle = style
	})
}

func WithFatalForeground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.FatalForeground = color
	})
}

func WithFatalBackground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.FatalBackground = color
	})
}

func WithFatalStyle(style TextStyle) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.FatalStyle = style
	})
}

func WithErrorForeground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.ErrorForeground = color
	})
}

func WithErrorBackground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.ErrorBackground = color
	})
}

func WithErrorStyle(style TextStyle) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.ErrorStyle = style
	})
}

func WithWarnForeground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.WarnForeground = color
	})
}

func WithWarnBackground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.WarnBackground = color
	})
}

func WithWarnStyle(style TextStyle) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.WarnStyle = style
	})
}

func WithInfoForeground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.InfoForeground = color
	})
}

func WithInfoBackground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.InfoBackground = color
	})
}

func WithInfoStyle(style TextStyle) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.InfoStyle = style
	})
}

func WithDebugForeground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.DebugForeground = color
	})
}

func WithDebugBackground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.DebugBackground = color
	})
}

func WithDebugStyle(style TextStyle) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.DebugStyle = style
	})
}

func WithTraceForeground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.TraceForeground = color
	})
}

func WithTraceBackground(color termenv.Color) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.TraceBackground = color
	})
}

func WithTraceStyle(style TextStyle) StyleOption {
	return scopt(func(s *StyleConfig) {
		s.TraceStyle = style
	})
}
