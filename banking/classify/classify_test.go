package classify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/bankflow/banking/classify"
)

func TestRuleClassifierIntents(t *testing.T) {
	tests := []struct {
		name    string
		message string
		intent  string
	}{
		{"balance plain", "what is my balance?", classify.IntentBalance},
		{"balance typo balanse", "check my balanse please", classify.IntentBalance},
		{"balance typo balence", "show balence", classify.IntentBalance},
		{"transfer plain", "transfer 500 to kiran", classify.IntentTransfer},
		{"transfer typo tansfer", "tansfer 100 to alice", classify.IntentTransfer},
		{"transfer typo snd", "snd 50 to bob", classify.IntentTransfer},
		{"transfer pay", "pay my landlord", classify.IntentTransfer},
		{"transfer bare amount-to", "5500 to kiran", classify.IntentTransfer},
		{"statement plain", "show my statement", classify.IntentStatement},
		{"statement typo statment", "get statment", classify.IntentStatement},
		{"statement history typo", "show my histroy", classify.IntentStatement},
		{"statement transactions", "recent transactions", classify.IntentStatement},
		{"loan plain", "am I eligible for a loan", classify.IntentLoan},
		{"loan typo lone", "apply for a lone", classify.IntentLoan},
		{"loan typo kredit", "kredit options", classify.IntentLoan},
		{"loan borrow typo", "can I borow money", classify.IntentLoan},
		{"fallback weather", "what is the weather today", classify.IntentFallback},
		{"fallback empty", "", classify.IntentFallback},
	}

	var rc classify.RuleClassifier
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := rc.Classify(context.Background(), tt.message)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if res.Intent != tt.intent {
				t.Errorf("intent: got %s, want %s", res.Intent, tt.intent)
			}
			if res.Confidence <= 0 || res.Confidence > 1 {
				t.Errorf("confidence out of range: %v", res.Confidence)
			}
		})
	}
}

func TestRuleClassifierTransferEntities(t *testing.T) {
	var rc classify.RuleClassifier
	res, err := rc.Classify(context.Background(), "send 5500 to kiran")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if res.Intent != classify.IntentTransfer {
		t.Fatalf("intent: got %s, want money_transfer", res.Intent)
	}
	if res.Entities.Amount == nil || *res.Entities.Amount != 5500 {
		t.Errorf("amount: got %v, want 5500", res.Entities.Amount)
	}
	if res.Entities.Recipient != "kiran" {
		t.Errorf("recipient: got %q, want kiran", res.Entities.Recipient)
	}
	if res.Entities.Account != classify.DefaultAccount {
		t.Errorf("account: got %q, want default", res.Entities.Account)
	}
}

func TestRuleClassifierConfidenceOrdering(t *testing.T) {
	var rc classify.RuleClassifier
	ctx := context.Background()

	balance, _ := rc.Classify(ctx, "balance")
	transfer, _ := rc.Classify(ctx, "send 10 to bob")
	fallback, _ := rc.Classify(ctx, "hello there")

	if transfer.Confidence >= balance.Confidence {
		t.Errorf("transfer confidence %v should be below balance %v",
			transfer.Confidence, balance.Confidence)
	}
	if fallback.Confidence >= transfer.Confidence {
		t.Errorf("fallback confidence %v should be below transfer %v",
			fallback.Confidence, transfer.Confidence)
	}
}

// stubClassifier returns a fixed result or error.
type stubClassifier struct {
	res classify.Result
	err error
}

func (s stubClassifier) Classify(context.Context, string) (classify.Result, error) {
	return s.res, s.err
}

func TestFallbackChain(t *testing.T) {
	ctx := context.Background()

	t.Run("primary success passes through", func(t *testing.T) {
		want := classify.Result{Intent: classify.IntentBalance, Confidence: 0.95}
		chain := classify.FallbackChain{Primary: stubClassifier{res: want}}
		got, err := chain.Classify(ctx, "balance")
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
		if got.Intent != want.Intent || got.Confidence != want.Confidence {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})

	t.Run("primary failure falls back to rules", func(t *testing.T) {
		chain := classify.FallbackChain{Primary: stubClassifier{err: errors.New("provider down")}}
		got, err := chain.Classify(ctx, "transfer 6000 to kiran")
		if err != nil {
			t.Fatalf("Classify returned error after fallback: %v", err)
		}
		if got.Intent != classify.IntentTransfer {
			t.Errorf("intent: got %s, want money_transfer", got.Intent)
		}
		if got.Confidence != classify.FallbackConfidence {
			t.Errorf("confidence: got %v, want %v", got.Confidence, classify.FallbackConfidence)
		}
		if got.Entities.Amount == nil || *got.Entities.Amount != 6000 {
			t.Errorf("fallback lost entities: %+v", got.Entities)
		}
	})

	t.Run("nil primary uses rules at full confidence", func(t *testing.T) {
		chain := classify.FallbackChain{}
		got, err := chain.Classify(ctx, "what is my balance")
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
		if got.Intent != classify.IntentBalance {
			t.Errorf("intent: got %s, want balance_inquiry", got.Intent)
		}
		if got.Confidence == classify.FallbackConfidence {
			t.Error("nil primary should not degrade confidence")
		}
	})
}

func TestValidIntent(t *testing.T) {
	for _, intent := range []string{
		classify.IntentBalance, classify.IntentTransfer,
		classify.IntentStatement, classify.IntentLoan, classify.IntentFallback,
	} {
		if !classify.ValidIntent(intent) {
			t.Errorf("ValidIntent(%s) = false", intent)
		}
	}
	if classify.ValidIntent("weather_report") {
		t.Error("ValidIntent accepted unknown intent")
	}
}
