package classify

import (
	"strings"
	"testing"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		intent     string
		confidence float64
		wantErr    bool
	}{
		{
			name:       "plain json",
			text:       `{"intent":"balance_inquiry","entities":{"account":"123"},"confidence":0.95}`,
			intent:     IntentBalance,
			confidence: 0.95,
		},
		{
			name: "fenced json",
			text:       "```json\n{\"intent\":\"loan_inquiry\",\"entities\":{},\"confidence\":0.9}\n```",
			intent:     IntentLoan,
			confidence: 0.9,
		},
		{
			name:       "json embedded in prose",
			text:       `Here is my analysis: {"intent":"account_statement","entities":{},"confidence":0.88} Hope that helps!`,
			intent:     IntentStatement,
			confidence: 0.88,
		},
		{
			name:       "unknown intent downgraded to fallback",
			text:       `{"intent":"weather_report","entities":{},"confidence":0.99}`,
			intent:     IntentFallback,
			confidence: invalidIntentConfidence,
		},
		{
			name:    "no json object",
			text:    "I cannot classify this request.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			text:    `{"intent": "balance_inquiry", "confidence":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseResult(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", res)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseResult failed: %v", err)
			}
			if res.Intent != tt.intent {
				t.Errorf("intent: got %s, want %s", res.Intent, tt.intent)
			}
			if res.Confidence != tt.confidence {
				t.Errorf("confidence: got %v, want %v", res.Confidence, tt.confidence)
			}
		})
	}
}

func TestParseResultTransferDefaults(t *testing.T) {
	res, err := parseResult(`{"intent":"money_transfer","entities":{"amount":6000,"recipient":"kiran"},"confidence":0.97}`)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}
	if res.Entities.Amount == nil || *res.Entities.Amount != 6000 {
		t.Errorf("amount: got %v, want 6000", res.Entities.Amount)
	}
	if res.Entities.Account != DefaultAccount {
		t.Errorf("account not defaulted: %q", res.Entities.Account)
	}
}

func TestClassificationPrompt(t *testing.T) {
	prompt := classificationPrompt(`send 5500 to kiran`)
	if !strings.Contains(prompt, `"send 5500 to kiran"`) {
		t.Error("prompt missing quoted user message")
	}
	for _, intent := range []string{IntentBalance, IntentTransfer, IntentStatement, IntentLoan, IntentFallback} {
		if !strings.Contains(prompt, intent) {
			t.Errorf("prompt missing intent %s", intent)
		}
	}
}
