package conversation

import "strings"

// Question ids used by the generation step.
const (
	QuestionProductName  = "product_name"
	QuestionUseCase      = "use_case"
	QuestionAesthetic    = "aesthetic"
	QuestionRequirements = "requirements"
)

type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// DefaultQuestions is the question set asked before a brief is generated.
var DefaultQuestions = []Question{
	{ID: QuestionProductName, Text: "What's the product called?"},
	{ID: QuestionUseCase, Text: "What does it do, and who is it for?"},
	{ID: QuestionAesthetic, Text: "How should it look and feel? Share any brands, products or references that inspire you."},
	{ID: QuestionRequirements, Text: "Any hard requirements, such as materials, certifications, size or budget? Say \"none\" if not."},
}

var noneAnswers = map[string]bool{
	"none": true, "no": true, "nope": true, "n/a": true, "na": true, "nothing": true, "skip": true,
}

// Requirements returns the requirements answer, or "" when the user declined.
func Requirements(answers map[string]string) string {
	r := strings.TrimSpace(answers[QuestionRequirements])
	if noneAnswers[strings.ToLower(strings.TrimRight(r, ".!"))] {
		return ""
	}
	return r
}
