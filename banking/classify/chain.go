package classify

import "context"

// FallbackConfidence is stamped on results produced by the rule baseline
// after the primary classifier failed. It sits below the default routing
// threshold, so recovered turns go through clarification rather than
// straight to execution.
const FallbackConfidence = 0.50

// FallbackChain tries the primary classifier and falls back to the regex
// rules when it fails. A chain never returns an error: classification
// outages degrade confidence, they do not fail turns.
type FallbackChain struct {
	Primary Classifier
	Rules   RuleClassifier
}

// Classify implements Classifier.
func (c FallbackChain) Classify(ctx context.Context, message string) (Result, error) {
	if c.Primary == nil {
		return c.Rules.Classify(ctx, message)
	}

	res, err := c.Primary.Classify(ctx, message)
	if err == nil {
		return res, nil
	}

	res, _ = c.Rules.Classify(ctx, message)
	res.Confidence = FallbackConfidence
	return res, nil
}
