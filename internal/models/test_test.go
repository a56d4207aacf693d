package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartNormalized(t *testing.T) {
	q := "What is your favourite season?"

	tests := []struct {
		name string
		part Part
		want []string
	}{
		{
			name: "questions list passes through",
			part: Part{Name: "P1", Questions: []string{"a", "b"}},
			want: []string{"a", "b"},
		},
		{
			name: "legacy singular question becomes a one-element list",
			part: Part{Name: "P2", Question: &q},
			want: []string{q},
		},
		{
			name: "questions list wins over singular question",
			part: Part{Name: "P3", Questions: []string{"a"}, Question: &q},
			want: []string{"a"},
		},
		{
			name: "no questions at all yields empty list",
			part: Part{Name: "P4", Pictures: []string{"x.png"}},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			norm := tt.part.Normalized()
			assert.Equal(t, tt.want, norm.Questions)
			assert.Nil(t, norm.Question)
			assert.NotNil(t, norm.Pictures)
			assert.NotNil(t, norm.For)
			assert.NotNil(t, norm.Against)
		})
	}
}

func TestPartQuestionCount(t *testing.T) {
	q := "single"
	assert.Equal(t, 2, Part{Questions: []string{"a", "b"}}.QuestionCount())
	assert.Equal(t, 1, Part{Question: &q}.QuestionCount())
	assert.Equal(t, 0, Part{Pictures: []string{"only.png"}}.QuestionCount())
}

func TestTestPartsRoundTrip(t *testing.T) {
	q := "legacy"
	parts := []Part{
		{Name: "Part 1.1", Questions: []string{"a", "b"}},
		{Name: "Part 1.2", Question: &q},
		{Name: "Part 2", Pictures: []string{"/images/x.png"}},
		{Name: "Part 3", Questions: []string{"c"}, For: []string{"yes"}, Against: []string{"no"}},
	}

	test := &Test{Title: "RoundTrip"}
	require.NoError(t, test.EncodeParts(parts))

	decoded, err := test.DecodeParts()
	require.NoError(t, err)
	require.Len(t, decoded, 4)

	// Part order is preserved across the JSON document round-trip.
	for i, p := range parts {
		assert.Equal(t, p.Name, decoded[i].Name)
	}

	total, err := test.ExpectedAnswers()
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestTestDecodeParts_Empty(t *testing.T) {
	test := &Test{Title: "Empty"}
	parts, err := test.DecodeParts()
	require.NoError(t, err)
	assert.Empty(t, parts)

	total, err := test.ExpectedAnswers()
	require.NoError(t, err)
	assert.Zero(t, total)
}
