package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// NewProduction returns a Logger writing newline-delimited JSON to w (or
// os.Stderr if w is nil), via the stumpy backend — logiface's zero-
// allocation "model" JSON event implementation. This is HeroMessaging's
// default production logger.
func NewProduction(w io.Writer, level logiface.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logiface.New[*stumpy.Event](
		stumpy.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel[*stumpy.Event](level),
	)
	return NewStructured[*stumpy.Event](l)
}
