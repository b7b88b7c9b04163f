package banking

import (
	"regexp"
	"strconv"
	"strings"
)

// Transfer-detail extraction. Recipient forms, in priority order:
// "account 456", "kiran's account", "to kiran". Amounts allow a comma or
// dot decimal separator ("1.500,50" style inputs are out of scope).
var (
	amountRe        = regexp.MustCompile(`(?i)(?:send|transfer)?\s*(\d+(?:[.,]\d{1,2})?)`)
	accountNumberRe = regexp.MustCompile(`(?i)account\s*(\d+)`)
	possessiveRe    = regexp.MustCompile(`(?i)(\w+)'s\s+account`)
	toRecipientRe   = regexp.MustCompile(`(?i)to\s+(\w+)`)
)

// TransferDetails are the slots parsed out of a transfer message. Either
// may be missing; the confidence check turns missing slots into a
// clarification question.
type TransferDetails struct {
	Amount    float64
	Recipient string
}

// ExtractTransferDetails parses amount and recipient from a message.
func ExtractTransferDetails(message string) TransferDetails {
	var details TransferDetails

	if m := amountRe.FindStringSubmatch(message); m != nil {
		raw := strings.ReplaceAll(m[1], ",", ".")
		if amount, err := strconv.ParseFloat(raw, 64); err == nil {
			details.Amount = amount
		}
	}

	switch {
	case accountNumberRe.MatchString(message):
		details.Recipient = accountNumberRe.FindStringSubmatch(message)[1]
	case possessiveRe.MatchString(message):
		details.Recipient = possessiveRe.FindStringSubmatch(message)[1]
	case toRecipientRe.MatchString(message):
		details.Recipient = toRecipientRe.FindStringSubmatch(message)[1]
	}

	return details
}
