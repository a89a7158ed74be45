package engine

// QuestionBroadcast is the payload pushed to every room member when a new
// question is dealt. The correct answer is deliberately absent: it stays
// server-side until the next submission is scored.
type QuestionBroadcast struct {
	// Difficulty is the tier the question was dealt at.
	Difficulty string `json:"difficulty"`
	// Question is the prompt text.
	Question string `json:"question"`
	// Options is the ordered list of four answer options.
	Options []string `json:"options"`
	// Scores is a full snapshot of every member's tally.
	Scores map[string]Tally `json:"scores"`
}
