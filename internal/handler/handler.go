// Package handler exposes capability negotiation over MCP.
package handler

import (
	"log/slog"

	"caps-gateway/internal/caps"
	"caps-gateway/internal/constraints"
	"caps-gateway/internal/extargs"
	"caps-gateway/internal/negotiation"
)

// Handler holds the negotiation collaborators the MCP tools delegate to.
type Handler struct {
	negotiator *negotiation.Negotiator
	parser     *extargs.Parser
	spec       constraints.Spec
	defaults   caps.Dict
	logger     *slog.Logger
}

// New creates a handler. spec and defaults are the server-configured
// capability constraints and default capabilities; per-call values in tool
// input override defaults but never the constraint spec.
func New(negotiator *negotiation.Negotiator, parser *extargs.Parser, spec constraints.Spec, defaults caps.Dict, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		negotiator: negotiator,
		parser:     parser,
		spec:       spec,
		defaults:   defaults,
		logger:     logger,
	}
}
