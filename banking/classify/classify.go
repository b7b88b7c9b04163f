// Package classify turns a user's natural-language message into a banking
// intent with extracted entities and a confidence score.
//
// Classification runs through the Classifier interface. RuleClassifier is
// the regex baseline; OpenAIClassifier, AnthropicClassifier, and
// GeminiClassifier call LLM providers for better typo and phrasing
// tolerance. FallbackChain combines an LLM classifier with the rule
// baseline so a provider outage never fails a turn.
package classify

import "context"

// Recognized intents.
const (
	IntentBalance   = "balance_inquiry"
	IntentTransfer  = "money_transfer"
	IntentStatement = "account_statement"
	IntentLoan      = "loan_inquiry"
	IntentFallback  = "fallback"
)

// DefaultAccount is the account assumed when the message names none.
const DefaultAccount = "123"

// ValidIntent reports whether intent is one of the recognized values.
func ValidIntent(intent string) bool {
	switch intent {
	case IntentBalance, IntentTransfer, IntentStatement, IntentLoan, IntentFallback:
		return true
	}
	return false
}

// Entities holds the details extracted alongside the intent. Amount and
// Recipient are populated for transfers; Account defaults to
// DefaultAccount when the message names none.
type Entities struct {
	Amount    *float64 `json:"amount"`
	Recipient string   `json:"recipient,omitempty"`
	Account   string   `json:"account,omitempty"`
}

// Result is a classification outcome.
type Result struct {
	Intent     string   `json:"intent"`
	Entities   Entities `json:"entities"`
	Confidence float64  `json:"confidence"`
}

// Classifier maps a user message to a Result.
//
// Implementations must be safe for concurrent use. A returned error means
// the classifier itself failed (network, provider, parse); it never means
// "no intent matched" -- unmatched messages classify as IntentFallback.
type Classifier interface {
	Classify(ctx context.Context, message string) (Result, error)
}
