package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/tutorgraph/internal/provider"
	"github.com/kalambet/tutorgraph/internal/selector"
)

const (
	searchFailureAnswer = "Sorry, I couldn't complete that search right now. Please try again later."
	emptyAnswer         = "I don't have an answer for that."
)

// chatLLM calls the selected provider once. A response with tool calls is
// queued for the Tools node unless the round bound is spent; anything else
// is the final answer.
func (e *Executor) chatLLM(ctx context.Context, st *TurnState) (Update, error) {
	p, ok := e.providers.Get(st.Provider)
	if !ok {
		e.logger.Error("selected provider is not registered", "provider", st.Provider)
		return Update{
			Answer:  ptr(fmt.Sprintf("Error calling LLM: provider %q is not configured", st.Provider)),
			Outcome: ptr(OutcomeProviderError),
		}, nil
	}

	var defs []provider.ToolDef
	if p.SupportsTools() {
		defs = e.tools.Definitions()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.ProviderTimeout)
	resp, err := p.Complete(callCtx, st.Pending, defs)
	cancel()
	e.metrics.ProviderCall(p.Name(), err)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Update{}, ctxErr
		}
		e.logger.Warn("provider call failed", "session", st.SessionID, "provider", p.Name(), "round", st.ToolRounds, "error", err)
		return Update{
			Answer:  ptr(e.failureAnswer(p.Name(), st.Class, err)),
			Outcome: ptr(OutcomeProviderError),
		}, nil
	}

	if len(resp.ToolCalls) == 0 {
		answer := strings.TrimSpace(resp.Content)
		if answer == "" {
			answer = emptyAnswer
		}
		return Update{
			Pending: []provider.Message{{Role: provider.RoleAssistant, Content: answer}},
			Answer:  ptr(answer),
			Outcome: ptr(OutcomeAnswered),
		}, nil
	}

	if st.ToolRounds >= e.opts.MaxToolRounds {
		e.logger.Warn("tool round limit reached", "session", st.SessionID, "provider", p.Name(), "rounds", st.ToolRounds)
		return Update{
			Answer:  ptr(fmt.Sprintf("I stopped after %d rounds of tool calls without reaching a final answer. Please try rephrasing your request.", st.ToolRounds)),
			Outcome: ptr(OutcomeToolLimit),
		}, nil
	}

	return Update{Pending: []provider.Message{{
		Role:      provider.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}}}, nil
}

// runTools executes every call of the last provider response in order and
// appends one tool message per call. Tool failures are results, not errors.
func (e *Executor) runTools(ctx context.Context, st *TurnState) (Update, error) {
	last := st.Pending[len(st.Pending)-1]

	u := Update{ToolRounds: 1}
	for _, call := range last.ToolCalls {
		if err := ctx.Err(); err != nil {
			return Update{}, err
		}

		res := e.tools.Invoke(ctx, call.Name, call.Arguments)
		e.metrics.ToolCall(call.Name, !res.Failed())
		if res.Failed() {
			e.logger.Warn("tool call failed", "session", st.SessionID, "tool", call.Name, "error", res.Error)
		} else {
			e.logger.Debug("tool call finished", "session", st.SessionID, "tool", call.Name)
		}

		u.ToolsUsed = append(u.ToolsUsed, call.Name)
		u.Pending = append(u.Pending, provider.Message{
			Role:       provider.RoleTool,
			Content:    res.Payload(),
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
	return u, nil
}

// failureAnswer is the visible answer for a failed provider call. The search
// route never exposes error details.
func (e *Executor) failureAnswer(name string, class selector.Class, err error) string {
	if class == selector.Search || (e.opts.SearchProvider != "" && strings.EqualFold(name, e.opts.SearchProvider)) {
		return searchFailureAnswer
	}
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Status != 0 {
		return fmt.Sprintf("Error calling LLM: %s returned status %d", pe.Provider, pe.Status)
	}
	return "Error calling LLM: " + err.Error()
}
