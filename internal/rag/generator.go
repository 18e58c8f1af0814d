package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"regulation-rag/internal/config"
	"regulation-rag/internal/models"
)

var (
	citationTag = regexp.MustCompile(models.CitationTagRegex)
)

// Completer produces one chat completion. llmservice.Completer satisfies it.
type Completer interface {
	Complete(ctx context.Context, system string, turns []models.Turn) (string, error)
}

// AnswerGenerator writes the final answer from retrieved context
type AnswerGenerator struct {
	completer    Completer
	messages     config.MessagesConfig
	historyTurns int
	maxItems     int
}

func NewAnswerGenerator(completer Completer, messages config.MessagesConfig, historyTurns, maxItems int) *AnswerGenerator {
	return &AnswerGenerator{
		completer:    completer,
		messages:     messages,
		historyTurns: historyTurns,
		maxItems:     maxItems,
	}
}

// Answer asks the model with the persona as system message, the recent
// history and finally the prompt, then strips file citations from the reply.
func (g *AnswerGenerator) Answer(ctx context.Context, question, contextText string, history []models.Turn) (string, error) {
	turns := SelectHistory(history, g.historyTurns)
	turns = append(turns, models.Turn{Role: models.RoleUser, Content: g.BuildPrompt(question, contextText)})

	answer, err := g.completer.Complete(ctx, g.messages.Persona, turns)
	if err != nil {
		return "", tag(models.ErrGeneration, err)
	}
	return Sanitize(answer), nil
}

// BuildPrompt renders the instruction prompt for one question
func (g *AnswerGenerator) BuildPrompt(question, contextText string) string {
	return fmt.Sprintf(models.AnswerPromptTemplate,
		contextText,
		question,
		g.messages.Language,
		g.messages.Domain,
		g.messages.Refusal,
		g.maxItems,
	)
}

// SelectHistory keeps the last n turns and then drops the ones with an
// unknown role or no content, so fewer than n turns may remain.
func SelectHistory(history []models.Turn, n int) []models.Turn {
	if n <= 0 {
		return []models.Turn{}
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}

	out := make([]models.Turn, 0, len(history))
	for _, t := range history {
		if t.Role != models.RoleUser && t.Role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Sanitize removes bracketed file references. The blanks around a removed
// reference shrink to one space, or to nothing at a line edge; the rest of
// the text keeps its layout apart from outer trimming.
func Sanitize(answer string) string {
	var spans [][]int
	for _, m := range citationTag.FindAllStringIndex(answer, -1) {
		if n := len(spans); n > 0 && spans[n-1][1] == m[0] {
			spans[n-1][1] = m[1]
			continue
		}
		spans = append(spans, m)
	}

	var b strings.Builder
	last := 0
	for _, m := range spans {
		b.WriteString(answer[last:m[0]])
		atLineStart := m[0] == 0 || answer[m[0]-1] == '\n'
		atLineEnd := m[1] == len(answer) || answer[m[1]] == '\n' || answer[m[1]] == '\r'
		if !atLineStart && !atLineEnd {
			b.WriteByte(' ')
		}
		last = m[1]
	}
	b.WriteString(answer[last:])
	return strings.TrimSpace(b.String())
}
