package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Test is one named speaking test. Parts holds the ordered part list as a
// JSONB array so part order survives storage round-trips.
type Test struct {
	ID    uint           `json:"id" gorm:"primaryKey"`
	Title string         `json:"title" gorm:"not null;size:200;uniqueIndex"`
	Parts datatypes.JSON `json:"parts" gorm:"type:jsonb;not null"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Test) TableName() string {
	return "tests"
}

// Part is a named section of a test. Question is the legacy singular shape;
// Normalized folds it into Questions so callers never branch on shape.
type Part struct {
	Name      string   `json:"name"`
	Questions []string `json:"questions,omitempty"`
	Question  *string  `json:"question,omitempty"`
	Pictures  []string `json:"pictures,omitempty"`
	For       []string `json:"For,omitempty"`
	Against   []string `json:"Against,omitempty"`
}

// Normalized returns the canonical representation: the singular Question
// (if any) becomes the sole entry of Questions, and nil slices become empty
// so the client view always carries arrays.
func (p Part) Normalized() Part {
	out := Part{
		Name:      p.Name,
		Questions: p.Questions,
		Pictures:  p.Pictures,
		For:       p.For,
		Against:   p.Against,
	}
	if len(out.Questions) == 0 && p.Question != nil && *p.Question != "" {
		out.Questions = []string{*p.Question}
	}
	if out.Questions == nil {
		out.Questions = []string{}
	}
	if out.Pictures == nil {
		out.Pictures = []string{}
	}
	if out.For == nil {
		out.For = []string{}
	}
	if out.Against == nil {
		out.Against = []string{}
	}
	return out
}

// QuestionCount is the number of answers this part expects. A part with no
// questions (image-only) expects zero.
func (p Part) QuestionCount() int {
	return len(p.Normalized().Questions)
}

// DecodeParts unmarshals the stored parts document in its original order.
func (t *Test) DecodeParts() ([]Part, error) {
	if len(t.Parts) == 0 {
		return []Part{}, nil
	}
	var parts []Part
	if err := json.Unmarshal(t.Parts, &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

// EncodeParts replaces the stored parts document.
func (t *Test) EncodeParts(parts []Part) error {
	data, err := json.Marshal(parts)
	if err != nil {
		return err
	}
	t.Parts = data
	return nil
}

// ExpectedAnswers sums the effective question count over all parts.
func (t *Test) ExpectedAnswers() (int, error) {
	parts, err := t.DecodeParts()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range parts {
		total += p.QuestionCount()
	}
	return total, nil
}
