package logging

import (
	"github.com/joeycumines/logiface"
)

// structured adapts a *logiface.Logger[E] to the Logger contract. logiface's
// Builder chain (Level().Str(...).Any(...).Log(msg)) already no-ops safely
// when the level is disabled, so this adapter does no level filtering of its
// own.
type structured[E logiface.Event] struct {
	logger *logiface.Logger[E]
}

// NewStructured wraps any logiface.Logger[E] (e.g. one built with the stumpy
// or zerolog backends) as a Logger.
func NewStructured[E logiface.Event](l *logiface.Logger[E]) Logger {
	return structured[E]{logger: l}
}

func (s structured[E]) Debug(msg string, fields ...Field) {
	apply(s.logger.Debug(), fields).Log(msg)
}

func (s structured[E]) Info(msg string, fields ...Field) {
	apply(s.logger.Info(), fields).Log(msg)
}

func (s structured[E]) Warn(msg string, fields ...Field) {
	apply(s.logger.Warning(), fields).Log(msg)
}

func (s structured[E]) Error(msg string, err error, fields ...Field) {
	b := s.logger.Err()
	if err != nil {
		b = b.Err(err)
	}
	apply(b, fields).Log(msg)
}

func apply[E logiface.Event](b *logiface.Builder[E], fields []Field) *logiface.Builder[E] {
	for _, f := range fields {
		b = b.Any(f.Key, f.Value)
	}
	return b
}
