package hook

import (
	"context"

	"github.com/rs/zerolog"
)

// LogHooks records outcomes in the log. It is the default collaborator when
// no reward or notification service is wired in.
type LogHooks struct {
	log zerolog.Logger
}

func NewLogHooks(log zerolog.Logger) *LogHooks {
	return &LogHooks{log: log.With().Str("component", "log_hooks").Logger()}
}

func (h *LogHooks) OnProofVerified(_ context.Context, proofID, submitterID string) error {
	h.log.Info().Str("proof_id", proofID).Str("submitter_id", submitterID).Msg("proof verified")
	return nil
}

func (h *LogHooks) OnProofRejected(_ context.Context, proofID, submitterID string) error {
	h.log.Info().Str("proof_id", proofID).Str("submitter_id", submitterID).Msg("proof rejected")
	return nil
}
