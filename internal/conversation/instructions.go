package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/classify"
	"github.com/MikeSquared-Agency/briefsmith/internal/template"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry. Transcripts are append-only.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func NewMessage(role, content string) Message {
	return Message{ID: uuid.New(), Role: role, Content: content, CreatedAt: time.Now().UTC()}
}

const persona = `You are Briefsmith, a product development assistant. You help founders turn a rough product idea into a manufacturable product brief. Be warm and concise. Never invent answers on the user's behalf.`

// Instructor builds the system instruction for each phase.
type Instructor struct {
	machine *Machine
	engine  *template.Engine
}

func NewInstructor(m *Machine, e *template.Engine) *Instructor {
	return &Instructor{machine: m, engine: e}
}

// Greeting is the opening assistant message: the first question, verbatim.
func (in *Instructor) Greeting() string {
	q, _ := in.machine.Question(0)
	return "Hi! Let's put together a brief for your product. " + q.Text
}

// Questioning asks the oracle to acknowledge the last answer and pose the
// next unanswered question word for word.
func (in *Instructor) Questioning(s State) (string, error) {
	q, ok := in.machine.Question(s.CurrentQuestion)
	if !ok {
		return "", fmt.Errorf("questioning instruction: no question at index %d", s.CurrentQuestion)
	}

	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\nYou are gathering information one question at a time.")
	if answered := in.answered(s); answered != "" {
		sb.WriteString(" What the user has told you so far:\n\n")
		sb.WriteString(answered)
	}
	fmt.Fprintf(&sb, "\nAcknowledge the user's last answer in one short sentence, then ask exactly this question and nothing else:\n\n%s\n", q.Text)
	sb.WriteString("\nDo not produce a brief yet.")
	return sb.String(), nil
}

// Generating renders the category template for the collected answers,
// followed by the full transcript and the marker demand.
func (in *Instructor) Generating(s State, transcript []Message) (string, *template.Prompt, error) {
	name := s.Answers[QuestionProductName]
	useCase := s.Answers[QuestionUseCase]
	aesthetic := s.Answers[QuestionAesthetic]

	prompt, err := in.engine.Build(template.Request{
		Category:     classify.Product(name, useCase),
		Positioning:  classify.InferPositioning(aesthetic),
		ProductName:  name,
		UseCase:      useCase,
		Aesthetic:    aesthetic,
		Requirements: Requirements(s.Answers),
	})
	if err != nil {
		return "", nil, fmt.Errorf("generating instruction: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\n")
	sb.WriteString(prompt.Text)
	sb.WriteString("\n\nFull conversation so far:\n\n")
	sb.WriteString(FormatTranscript(transcript))
	fmt.Fprintf(&sb, "Reply with one or two sentences introducing the brief, then the complete brief as a single JSON object wrapped in %s and %s.", brief.OpenMarker, brief.CloseMarker)
	return sb.String(), prompt, nil
}

// Editing embeds the current brief and asks for targeted changes. The oracle
// may answer conversationally; a changed brief must come back wrapped.
func (in *Instructor) Editing(current json.RawMessage) string {
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\nThe user is refining an existing product brief. The current brief is:\n\n")
	sb.Write(indent(current))
	sb.WriteString("\n\nApply only the changes the user asks for and keep every other field as it is. ")
	sb.WriteString("If the user asks a question or the request is unclear, answer conversationally without a brief. ")
	fmt.Fprintf(&sb, "When you change the brief, summarise the change in one sentence and then return the complete updated brief as a single JSON object wrapped in %s and %s.", brief.OpenMarker, brief.CloseMarker)
	return sb.String()
}

func (in *Instructor) answered(s State) string {
	var sb strings.Builder
	for _, q := range in.machine.Questions() {
		a, ok := s.Answers[q.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- %s\n  %s\n", q.Text, a)
	}
	return sb.String()
}

// FormatTranscript renders messages as a User:/Assistant: transcript.
func FormatTranscript(msgs []Message) string {
	var sb strings.Builder
	for _, msg := range msgs {
		switch msg.Role {
		case RoleUser:
			sb.WriteString("User: ")
		case RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString(msg.Role + ": ")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func indent(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return out
}
