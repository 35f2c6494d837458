package logging

import (
	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// NewZerolog returns a Logger backed by an already-configured zerolog.Logger,
// for embedders that have standardized on zerolog elsewhere in their
// process. level caps what HeroMessaging itself will emit, independent of
// zl's own level.
func NewZerolog(zl zerolog.Logger, level logiface.Level) Logger {
	l := logiface.New[*izerolog.Event](
		izerolog.WithZerolog(zl),
		logiface.WithLevel[*izerolog.Event](level),
	)
	return NewStructured[*izerolog.Event](l)
}
