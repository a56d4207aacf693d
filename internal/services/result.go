package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cefrlab/speaking-test-service/internal/models"
)

const assessmentSystemPrompt = `You are an experienced English teacher and CEFR rater.
You will receive the student's answers to a multi-part speaking test.
Provide a JSON object with EXACT fields: level, explanation, tip.`

// buildCombinedTranscript reconstructs the per-part transcript block in the
// test's original part order. Answers within a part are ordered by their
// stored question index, not by arrival order.
func buildCombinedTranscript(parts []models.Part, answers map[string][]models.Answer) string {
	blocks := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := part.Normalized()

		recorded := make([]models.Answer, len(answers[part.Name]))
		copy(recorded, answers[part.Name])
		sort.Slice(recorded, func(i, j int) bool {
			return recorded[i].QuestionIndex < recorded[j].QuestionIndex
		})

		var b strings.Builder
		fmt.Fprintf(&b, "--- %s ---\n", part.Name)
		fmt.Fprintf(&b, "Question(s): %s\n", strings.Join(norm.Questions, " | "))
		if len(norm.For) > 0 {
			fmt.Fprintf(&b, "For: %s\n", strings.Join(norm.For, " | "))
		}
		if len(norm.Against) > 0 {
			fmt.Fprintf(&b, "Against: %s\n", strings.Join(norm.Against, " | "))
		}
		for _, a := range recorded {
			fmt.Fprintf(&b, "Answer %d: %s\n", a.QuestionIndex, a.Transcript)
		}
		if len(recorded) == 0 {
			b.WriteString("Answer: \n")
		}
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// parseFinalResult extracts the first balanced brace-delimited JSON object
// from the assessor's free-form output. A malformed upstream response never
// fails the request: it degrades to an Unknown level carrying the raw text.
func parseFinalResult(raw string) models.FinalResult {
	if obj, ok := extractJSONObject(raw); ok {
		var result models.FinalResult
		if err := json.Unmarshal([]byte(obj), &result); err == nil && result.Level != "" {
			return result
		}
	}
	return models.FinalResult{
		Level:       "Unknown",
		Explanation: raw,
		Tip:         "",
	}
}

// extractJSONObject returns the first balanced {...} span in s, respecting
// string literals and escapes so braces inside values don't truncate it.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
