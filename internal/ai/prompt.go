package ai

import (
	"oralgrader/internal/model"
	"oralgrader/internal/rubric"
)

// BuildContext builds the ordered conversation for one assessment call:
// the rubric, both worked examples and the student's sample, always last.
// Rubric and example text is passed through unchanged and the sample is not validated.
func BuildContext(b *rubric.Bundle, input string) []model.Turn {
	return []model.Turn{
		{Role: model.RoleSystem, Content: b.System},
		{Role: model.RoleExampleUser, Content: b.Examples[0].Input},
		{Role: model.RoleExampleAssistant, Content: b.Examples[0].Output},
		{Role: model.RoleExampleUser, Content: b.Examples[1].Input},
		{Role: model.RoleExampleAssistant, Content: b.Examples[1].Output},
		{Role: model.RoleUser, Content: input},
	}
}
