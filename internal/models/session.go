package models

// Answer is one transcribed answer within a part, keyed by the question
// index the client answered.
type Answer struct {
	QuestionIndex int    `json:"question_index"`
	Transcript    string `json:"transcript"`
}

// FinalResult is the CEFR judgment produced once per completed session.
type FinalResult struct {
	Level       string `json:"level"`
	Explanation string `json:"explanation"`
	Tip         string `json:"tip"`
}
