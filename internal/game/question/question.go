package question

import (
	"context"
	"errors"
	"fmt"
)

// OptionCount is the number of answer options every question carries.
const OptionCount = 4

// ErrMalformedQuestion is returned when provider output does not satisfy
// the question schema.
var ErrMalformedQuestion = errors.New("malformed question")

// Question is a single validated quiz question. Answer holds the exact
// text of the correct option; it is the canonical representation and must
// never be exposed to clients.
type Question struct {
	// Text is the question prompt shown to players.
	Text string
	// Options is the ordered list of exactly four answer options.
	Options []string
	// Answer is the exact text of the correct option.
	Answer string
	// Tier is the difficulty the question was generated for.
	Tier Tier
}

// Provider supplies questions for a difficulty tier. Implementations may
// block on network calls; failures are reported as errors, never as
// partially-filled questions.
type Provider interface {
	GetQuestion(ctx context.Context, tier Tier) (Question, error)
}

// New builds a validated Question whose correct answer is named by index
// into options.
//
// Precondition: options must hold exactly OptionCount non-empty entries.
// Postcondition: Returns a Question with Answer == options[correct], or
// an error wrapping ErrMalformedQuestion.
func New(tier Tier, text string, options []string, correct int) (Question, error) {
	if correct < 0 || correct >= len(options) {
		return Question{}, fmt.Errorf("%w: answer index %d out of range for %d options",
			ErrMalformedQuestion, correct, len(options))
	}
	q := Question{Text: text, Options: options, Answer: options[correct], Tier: tier}
	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	return q, nil
}

// NewFromAnswer builds a validated Question whose correct answer is given
// as the exact option text.
//
// Postcondition: Returns a Question whose Answer matches one of Options
// exactly, or an error wrapping ErrMalformedQuestion.
func NewFromAnswer(tier Tier, text string, options []string, answer string) (Question, error) {
	q := Question{Text: text, Options: options, Answer: answer, Tier: tier}
	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	return q, nil
}

// Validate checks the question schema: non-empty text, exactly four
// non-empty options, and an answer that exactly matches one option.
//
// Postcondition: Returns nil iff the question is well-formed.
func (q Question) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("%w: empty question text", ErrMalformedQuestion)
	}
	if len(q.Options) != OptionCount {
		return fmt.Errorf("%w: expected %d options, got %d",
			ErrMalformedQuestion, OptionCount, len(q.Options))
	}
	for i, opt := range q.Options {
		if opt == "" {
			return fmt.Errorf("%w: option %d is empty", ErrMalformedQuestion, i)
		}
	}
	for _, opt := range q.Options {
		if opt == q.Answer {
			return nil
		}
	}
	return fmt.Errorf("%w: answer %q does not match any option", ErrMalformedQuestion, q.Answer)
}
