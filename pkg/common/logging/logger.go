/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package logging plugs a zerolog backend into the framework's module loggers.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/hyperledger/aries-framework-go/component/log"
	spilog "github.com/hyperledger/aries-framework-go/spi/log"
	"github.com/rs/zerolog"
)

const moduleField = "module"

// Provider is a spi log.LoggerProvider writing through zerolog. Levels stay under the control of
// component/log, which filters before a message reaches the Provider.
type Provider struct {
	root zerolog.Logger
}

// Option configures the Provider.
type Option func(p *Provider)

// WithConsoleOutput writes human-readable lines instead of JSON.
func WithConsoleOutput() Option {
	return func(p *Provider) {
		p.root = p.root.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// NewProvider returns a Provider writing JSON lines to w.
func NewProvider(w io.Writer, opts ...Option) *Provider {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	p := &Provider{root: zerolog.New(w).With().Timestamp().Logger()}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// GetLogger returns the logger of module.
func (p *Provider) GetLogger(module string) spilog.Logger {
	return &logger{zl: p.root.With().Str(moduleField, module).Logger()}
}

// Initialize installs the Provider as the backend of every module logger and sets the level of all modules.
func Initialize(p *Provider, level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", level, err)
	}

	log.Initialize(p)
	log.SetLevel("", lvl)

	return nil
}

type logger struct {
	zl zerolog.Logger
}

func (l *logger) Panicf(msg string, args ...interface{}) {
	l.zl.Panic().Msgf(msg, args...)
}

func (l *logger) Fatalf(msg string, args ...interface{}) {
	l.zl.Fatal().Msgf(msg, args...)
}

func (l *logger) Errorf(msg string, args ...interface{}) {
	l.zl.Error().Msgf(msg, args...)
}

func (l *logger) Warnf(msg string, args ...interface{}) {
	l.zl.Warn().Msgf(msg, args...)
}

func (l *logger) Infof(msg string, args ...interface{}) {
	l.zl.Info().Msgf(msg, args...)
}

func (l *logger) Debugf(msg string, args ...interface{}) {
	l.zl.Debug().Msgf(msg, args...)
}
