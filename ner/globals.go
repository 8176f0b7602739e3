package ner

import (
	"os"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is used for config lookup paths and log fields
	DefaultAppName = "nertrain"

	// Reserved feature-record ids shared by the transformer strategies.
	// BOS/EOS are the sentence markers added around every encoded example;
	// PadTokenID fills the tail of a flushed record.
	BOSTokenID int64 = 0
	PadTokenID int64 = 1
	EOSTokenID int64 = 2

	// IgnoreLabelID is the reserved label id for padding and non-initial
	// sub-word positions. It is excluded from the loss and from decoding.
	IgnoreLabelID int64 = 0

	// IgnoreLabel is the pseudo-label string mapped to IgnoreLabelID
	IgnoreLabel = "IGNORE"

	// OutsideLabel marks tokens covered by no annotation
	OutsideLabel = "O"
)

// NewLogger returns a properly configured zerolog logger instance.
// Components never reach for a global logger; the entry point builds one
// and threads it through the run context.
func NewLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}
