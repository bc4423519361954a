// Package tools routes user utterances to auxiliary context providers.
//
// Tools are registered explicitly at process start; there is no automatic
// discovery. Registration order is significant: the first tool whose
// trigger fires handles the utterance and no further tool runs.
package tools

import (
	"context"
	"fmt"

	"github.com/SleepyXm/SynapseR/internal/log"
)

// Tool is one pluggable context provider. Trigger must be a pure function
// of the utterance; Run may perform network I/O and should honor ctx.
type Tool struct {
	Name    string
	Trigger func(userInput string) bool
	Run     func(ctx context.Context, userInput string) (string, error)
}

// Router evaluates tools in fixed registration order.
type Router struct {
	tools  []Tool
	logger log.Logger
}

// NewRouter creates a Router with the given tools, evaluated in order.
func NewRouter(logger log.Logger, registered ...Tool) *Router {
	return &Router{tools: registered, logger: logger}
}

// Route runs at most one tool: the first whose trigger fires. Returns the
// tool's textual context, or "" when no trigger fires or the tool yields
// nothing. A tool execution error is returned alongside the tool's name.
func (r *Router) Route(ctx context.Context, userInput string) (string, error) {
	for _, tool := range r.tools {
		if !tool.Trigger(userInput) {
			continue
		}

		r.logger.Debug("tool triggered", "tool", tool.Name)
		out, err := tool.Run(ctx, userInput)
		if err != nil {
			return "", fmt.Errorf("tool %s: %w", tool.Name, err)
		}
		return out, nil
	}
	return "", nil
}
