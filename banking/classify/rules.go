package classify

import (
	"context"
	"regexp"
	"strconv"
)

// Pattern sets are deliberately typo-tolerant; users mistype banking terms
// constantly and a miss here drops the message to the fallback intent.
var (
	balancePatterns = compileAll(
		`\bbalance\b`,
		`\bbalanse\b`,
		`\bbalence\b`,
		`\bbalanc\b`,
		`\baccoun?t\s+balance\b`,
		`\bmy\s+balance\b`,
		`\bcheck\s+balance\b`,
		`\bshow\s+balance\b`,
	)
	transferPatterns = compileAll(
		`\btransfer\b`,
		`\btansfer\b`,
		`\btranfer\b`,
		`\btransffer\b`,
		`\btransfar\b`,
		`\bsend\b`,
		`\bsnd\b`,
		`\bpay\b`,
		`\bmove\b`,
		`\bgive\b`,
		`\b\d+\s+to\s+\w+\b`,
	)
	statementPatterns = compileAll(
		`\bstatement\b`,
		`\bstatment\b`,
		`\bstatemnt\b`,
		`\bstatmnt\b`,
		`\btransactions?\b`,
		`\btransacton\b`,
		`\bhistory\b`,
		`\bhistroy\b`,
		`\brecent\s+activity\b`,
		`\baccoun?t\s+statement\b`,
	)
	loanPatterns = compileAll(
		`\bloan\b`,
		`\blon\b`,
		`\blone\b`,
		`\blaon\b`,
		`\bcredit\b`,
		`\bkredit\b`,
		`\beligible\b`,
		`\beligable\b`,
		`\bborrow\b`,
		`\bborow\b`,
	)

	simpleAmountRe    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	simpleRecipientRe = regexp.MustCompile(`(?i)to\s+(\w+)`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, message string) bool {
	for _, p := range patterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}

// Rule confidences. Transfers score lower because the patterns ("send",
// "pay", "move") collide with non-banking phrasing more often.
const (
	ruleConfidence         = 0.80
	ruleTransferConfidence = 0.70
	ruleNoMatchConfidence  = 0.30
)

// RuleClassifier matches messages against typo-tolerant regex patterns.
// It never returns an error and needs no external services, which makes
// it the terminal link of every FallbackChain.
type RuleClassifier struct{}

// Classify matches message against the intent patterns in priority order.
func (RuleClassifier) Classify(_ context.Context, message string) (Result, error) {
	switch {
	case matchAny(balancePatterns, message):
		return Result{Intent: IntentBalance, Confidence: ruleConfidence}, nil
	case matchAny(transferPatterns, message):
		return Result{
			Intent:     IntentTransfer,
			Entities:   transferEntities(message),
			Confidence: ruleTransferConfidence,
		}, nil
	case matchAny(statementPatterns, message):
		return Result{Intent: IntentStatement, Confidence: ruleConfidence}, nil
	case matchAny(loanPatterns, message):
		return Result{Intent: IntentLoan, Confidence: ruleConfidence}, nil
	}
	return Result{Intent: IntentFallback, Confidence: ruleNoMatchConfidence}, nil
}

// transferEntities pulls a rough amount and recipient out of a transfer
// message. The richer extractor in the banking package re-parses the
// message before preparing a transfer; this only seeds the entities.
func transferEntities(message string) Entities {
	ent := Entities{Account: DefaultAccount}
	if m := simpleAmountRe.FindString(message); m != "" {
		if amount, err := strconv.ParseFloat(m, 64); err == nil {
			ent.Amount = &amount
		}
	}
	if m := simpleRecipientRe.FindStringSubmatch(message); m != nil {
		ent.Recipient = m[1]
	}
	return ent
}
