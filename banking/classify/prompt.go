package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// classificationPrompt builds the instruction sent to every LLM provider.
// The providers differ only in transport; the contract with the model is
// identical JSON.
func classificationPrompt(message string) string {
	var sb strings.Builder

	sb.WriteString("You are a banking AI assistant that analyzes customer requests.\n\n")
	sb.WriteString("User Request: ")
	sb.WriteString(fmt.Sprintf("%q", message))
	sb.WriteString("\n\n")
	sb.WriteString("Analyze this banking request and respond ONLY with valid JSON in this exact format:\n")
	sb.WriteString(`{
    "intent": "one of: balance_inquiry, money_transfer, account_statement, loan_inquiry, fallback",
    "entities": {
        "amount": null or number (for transfers),
        "recipient": null or string (for transfers),
        "account": "123" (default account)
    },
    "confidence": 0.95
}`)
	sb.WriteString("\n\nIntent Definitions:\n")
	sb.WriteString("- balance_inquiry: User wants to check account balance\n")
	sb.WriteString("- money_transfer: User wants to transfer/send/pay money\n")
	sb.WriteString("- account_statement: User wants transaction history/statement\n")
	sb.WriteString("- loan_inquiry: User wants loan information/eligibility\n")
	sb.WriteString("- fallback: Unclear or non-banking request\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("1. confidence should be 0.90+ for clear requests\n")
	sb.WriteString("2. confidence should be 0.50-0.80 for vague requests\n")
	sb.WriteString("3. confidence should be <0.50 for unclear/non-banking requests\n")
	sb.WriteString("4. Extract amount as a number (not a string) for transfers\n")
	sb.WriteString("5. Handle typos gracefully (e.g., \"tansfer\" = \"transfer\")\n\n")
	sb.WriteString("Respond with ONLY the JSON, no explanation.")

	return sb.String()
}

// Confidence stamped when the model returns an intent outside the
// recognized set.
const invalidIntentConfidence = 0.30

// parseResult decodes a model response into a Result. Models wrap JSON in
// markdown fences or prose often enough that the first balanced-looking
// object in the text is what gets parsed.
func parseResult(text string) (Result, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || start >= end {
		return Result{}, fmt.Errorf("no JSON object in model response")
	}

	var raw struct {
		Intent     string   `json:"intent"`
		Entities   Entities `json:"entities"`
		Confidence float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Result{}, fmt.Errorf("failed to decode model response: %w", err)
	}

	res := Result{Intent: raw.Intent, Entities: raw.Entities, Confidence: raw.Confidence}
	if !ValidIntent(res.Intent) {
		res.Intent = IntentFallback
		res.Confidence = invalidIntentConfidence
	}
	if res.Intent == IntentTransfer && res.Entities.Account == "" {
		res.Entities.Account = DefaultAccount
	}
	return res, nil
}
