package constants

import "time"

const (
	// MaxDescriptionLength bounds Extractor.Description, in runes.
	MaxDescriptionLength = 100

	// MaxRepairAttempts is the number of repair prompts sent after the first
	// model call, so one extraction makes at most MaxRepairAttempts+1 calls.
	MaxRepairAttempts = 2

	// DefaultRequestTimeout is the wall-clock ceiling for one extract or suggest call.
	DefaultRequestTimeout = 2 * time.Minute

	// DefaultModelTimeout bounds a single model call.
	DefaultModelTimeout = 45 * time.Second

	// EnvelopeKey is the key of the record array in every extraction result.
	EnvelopeKey = "data"
)
