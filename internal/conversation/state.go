// Package conversation holds the phase state machine that drives a brief
// conversation and the per-conversation session that serialises turns.
package conversation

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

type Phase string

const (
	PhaseQuestioning Phase = "QUESTIONING"
	PhaseGenerating  Phase = "GENERATING"
	PhaseEditing     Phase = "EDITING"
)

// State is the machine's value. Transition never mutates its input.
type State struct {
	Phase              Phase             `json:"phase"`
	CurrentQuestion    int               `json:"current_question"`
	Answers            map[string]string `json:"answers"`
	QuestionsCompleted bool              `json:"questions_completed"`
}

// Initial returns the start state. A conversation opened on an existing brief
// skips the questions and starts in EDITING.
func Initial(hasBrief bool) State {
	if hasBrief {
		return State{Phase: PhaseEditing, Answers: map[string]string{}, QuestionsCompleted: true}
	}
	return State{Phase: PhaseQuestioning, Answers: map[string]string{}}
}

type EventKind int

const (
	// EventUserMessage is any user turn: an answer while questioning, a retry
	// nudge while generating, an edit request while editing.
	EventUserMessage EventKind = iota
	// EventBriefExtracted fires when a generation reply yielded a brief.
	EventBriefExtracted
	// EventGenerationFailed fires when the oracle failed or returned no usable brief.
	EventGenerationFailed
	// EventRestart discards progress and returns to the initial state.
	EventRestart
)

func (k EventKind) String() string {
	switch k {
	case EventUserMessage:
		return "user_message"
	case EventBriefExtracted:
		return "brief_extracted"
	case EventGenerationFailed:
		return "generation_failed"
	case EventRestart:
		return "restart"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Event struct {
	Kind EventKind
	Text string
}

var (
	ErrEmptyAnswer  = errors.New("answer is empty")
	ErrInvalidEvent = errors.New("event not valid in this phase")
	ErrNoQuestions  = errors.New("question set is empty")
	ErrUnknownPhase = errors.New("unknown phase")
)

// Machine binds the transition function to a fixed question set.
type Machine struct {
	questions []Question
}

func NewMachine(questions []Question) (*Machine, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	return &Machine{questions: questions}, nil
}

// Questions returns the fixed question set.
func (m *Machine) Questions() []Question {
	return m.questions
}

// Question returns the question at index i, if any.
func (m *Machine) Question(i int) (Question, bool) {
	if i < 0 || i >= len(m.questions) {
		return Question{}, false
	}
	return m.questions[i], true
}

// Transition computes the next state. Invalid events return the input state
// unchanged together with an error.
func (m *Machine) Transition(s State, ev Event) (State, error) {
	if ev.Kind == EventRestart {
		return Initial(false), nil
	}

	switch s.Phase {
	case PhaseQuestioning:
		return m.fromQuestioning(s, ev)
	case PhaseGenerating:
		switch ev.Kind {
		case EventUserMessage:
			if strings.TrimSpace(ev.Text) == "" {
				return s, ErrEmptyAnswer
			}
			return s, nil
		case EventBriefExtracted:
			next := s.clone()
			next.Phase = PhaseEditing
			return next, nil
		case EventGenerationFailed:
			// Stay put so the caller can retry.
			return s, nil
		}
	case PhaseEditing:
		switch ev.Kind {
		case EventUserMessage:
			if strings.TrimSpace(ev.Text) == "" {
				return s, ErrEmptyAnswer
			}
			return s, nil
		case EventBriefExtracted, EventGenerationFailed:
			return s, nil
		}
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownPhase, s.Phase)
	}
	return s, fmt.Errorf("%w: %s in %s", ErrInvalidEvent, ev.Kind, s.Phase)
}

func (m *Machine) fromQuestioning(s State, ev Event) (State, error) {
	if ev.Kind != EventUserMessage {
		return s, fmt.Errorf("%w: %s in %s", ErrInvalidEvent, ev.Kind, s.Phase)
	}
	answer := strings.TrimSpace(ev.Text)
	if answer == "" {
		return s, ErrEmptyAnswer
	}
	q, ok := m.Question(s.CurrentQuestion)
	if !ok {
		return s, fmt.Errorf("%w: question %d out of range", ErrInvalidEvent, s.CurrentQuestion)
	}

	next := s.clone()
	next.Answers[q.ID] = answer
	if s.CurrentQuestion < len(m.questions)-1 {
		next.CurrentQuestion = s.CurrentQuestion + 1
		return next, nil
	}
	next.Phase = PhaseGenerating
	next.QuestionsCompleted = true
	return next, nil
}

func (s State) clone() State {
	out := s
	out.Answers = make(map[string]string, len(s.Answers))
	maps.Copy(out.Answers, s.Answers)
	return out
}
