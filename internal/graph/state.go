package graph

import (
	"fmt"

	"github.com/kalambet/tutorgraph/internal/correction"
	"github.com/kalambet/tutorgraph/internal/intent"
	"github.com/kalambet/tutorgraph/internal/provider"
	"github.com/kalambet/tutorgraph/internal/selector"
	"github.com/kalambet/tutorgraph/internal/storage"
)

// State is a node of the per-turn state machine.
type State int

const (
	Start State = iota
	InputSession
	ModelSelector
	ChatLLM
	Tools
	FeedbackCorrection
	End
)

var stateNames = [...]string{
	Start:              "start",
	InputSession:       "input_session",
	ModelSelector:      "model_selector",
	ChatLLM:            "chat_llm",
	Tools:              "tools",
	FeedbackCorrection: "feedback_correction",
	End:                "end",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Outcome describes how a turn ended.
type Outcome string

const (
	OutcomeAnswered      Outcome = "answered"
	OutcomeProviderError Outcome = "provider_error"
	OutcomeToolLimit     Outcome = "tool_limit"
)

type edge struct {
	from, to State
	when     func(*TurnState) bool
}

// transitions is evaluated in order; the first edge whose guard holds wins.
var transitions = []edge{
	{Start, InputSession, always},
	{InputSession, ModelSelector, isQuery},
	{InputSession, FeedbackCorrection, isCorrection},
	{ModelSelector, ChatLLM, always},
	{ChatLLM, Tools, hasToolCalls},
	{ChatLLM, End, noToolCalls},
	{Tools, ChatLLM, always},
	{FeedbackCorrection, ModelSelector, always},
}

func always(*TurnState) bool { return true }

func isQuery(st *TurnState) bool      { return st.Intent != intent.Correction }
func isCorrection(st *TurnState) bool { return st.Intent == intent.Correction }

// hasToolCalls reports whether the last provider response is still waiting
// for tool results.
func hasToolCalls(st *TurnState) bool {
	if st.Outcome != "" || len(st.Pending) == 0 {
		return false
	}
	last := st.Pending[len(st.Pending)-1]
	return last.Role == provider.RoleAssistant && len(last.ToolCalls) > 0
}

func noToolCalls(st *TurnState) bool { return !hasToolCalls(st) }

// next returns the state following from.
func next(from State, st *TurnState) (State, error) {
	for _, e := range transitions {
		if e.from == from && e.when(st) {
			return e.to, nil
		}
	}
	return End, fmt.Errorf("no transition from %s", from)
}

// TurnState is the working record of one turn. It is rebuilt from the store at
// the start of every turn and discarded at the end.
type TurnState struct {
	SessionID string
	UserID    string
	// Input is the raw user text, persisted as the user message.
	Input string
	// Query is the working query sent to the answering provider.
	Query  string
	Intent intent.Intent

	Provider string
	Class    selector.Class
	// Override is the sticky provider override after this turn.
	Override string

	// Session is the stored session as loaded at turn start.
	Session storage.Session

	// History is the persisted conversation as loaded at turn start.
	History     []storage.Message
	Corrections []storage.Correction
	Correction  *correction.Applied

	// Pending is the provider-bound message list for this turn, including
	// intermediate tool calls and results.
	Pending []provider.Message

	Answer     string
	Outcome    Outcome
	ToolRounds int
	ToolsUsed  []string
}

// Update is a node's contribution to the TurnState. List fields are appended;
// set pointer fields overwrite; ToolRounds is added.
type Update struct {
	History   []storage.Message
	Pending   []provider.Message
	ToolsUsed []string

	Query       *string
	Intent      *intent.Intent
	Provider    *string
	Class       *selector.Class
	Override    *string
	Session     *storage.Session
	Corrections *[]storage.Correction
	Correction  *correction.Applied
	Answer      *string
	Outcome     *Outcome

	ToolRounds int
}

func (st *TurnState) apply(u Update) {
	st.History = append(st.History, u.History...)
	st.Pending = append(st.Pending, u.Pending...)
	st.ToolsUsed = append(st.ToolsUsed, u.ToolsUsed...)

	if u.Query != nil {
		st.Query = *u.Query
	}
	if u.Intent != nil {
		st.Intent = *u.Intent
	}
	if u.Provider != nil {
		st.Provider = *u.Provider
	}
	if u.Class != nil {
		st.Class = *u.Class
	}
	if u.Override != nil {
		st.Override = *u.Override
	}
	if u.Session != nil {
		st.Session = *u.Session
	}
	if u.Corrections != nil {
		st.Corrections = *u.Corrections
	}
	if u.Correction != nil {
		st.Correction = u.Correction
	}
	if u.Answer != nil {
		st.Answer = *u.Answer
	}
	if u.Outcome != nil {
		st.Outcome = *u.Outcome
	}
	st.ToolRounds += u.ToolRounds
}

func ptr[T any](v T) *T { return &v }
