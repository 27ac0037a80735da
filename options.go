/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

import (
	"github.com/btnmasher/chatcore/shared/logfmt"
	"github.com/sirupsen/logrus"
)

// Option configures a Server at construction time.
type Option func(*settings)

type settings struct {
	logger     *logrus.Logger
	logLevel   logrus.Level
	formatter  logrus.Formatter
	identifier IdentifierService
	mailboxLen int
}

func defaultSettings() *settings {
	return &settings{
		logger:     logrus.New(),
		logLevel:   logrus.InfoLevel,
		identifier: NewIdentifierService(),
		mailboxLen: mailboxDepth,
	}
}

// WithLogger sets the *logrus.Logger the coordinator and every channel
// actor log through.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithLogLevel sets the log level applied to the configured logger.
func WithLogLevel(level logrus.Level) Option {
	return func(s *settings) { s.logLevel = level }
}

// WithDefaultLogFormatter installs shared/logfmt's nested-field formatter.
func WithDefaultLogFormatter() Option {
	return func(s *settings) {
		s.formatter = logfmt.New(
			logfmt.WithTimestampFormat("2006-01-02 15:04:05"),
		)
	}
}

// WithIdentifierService overrides the default github.com/google/uuid-backed
// IdentifierService, mainly useful for deterministic tests.
func WithIdentifierService(ids IdentifierService) Option {
	return func(s *settings) { s.identifier = ids }
}

// WithMailboxLength overrides the coordinator's inbound command mailbox
// depth (default mailboxDepth).
func WithMailboxLength(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.mailboxLen = n
		}
	}
}
