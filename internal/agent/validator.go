package agent

import (
	"context"
	"regexp"
	"strings"

	"github.com/ashureev/alertbot/internal/domain"
)

// Missing-slot labels reported back to the customer.
const (
	missingAccount = "accountNumber"
	missingChannel = "channel (SMS or Email)"
)

var accountNumberPattern = regexp.MustCompile(`\d{6,}`)

// RuleValidator checks slot evidence and eligibility against the customer's
// own messages. Bot messages are ignored so that prompts such as
// "channel (SMS or Email)" never count as the customer's answer.
type RuleValidator struct{}

// Validate implements Validator.
func (RuleValidator) Validate(_ context.Context, c Classification, history []domain.Message) (Verdict, error) {
	if c.Intent != IntentSubscribe {
		return Verdict{Kind: VerdictOK}, nil
	}

	var hasAccount, hasChannel, ineligible bool
	for _, m := range domain.UserMessages(history) {
		text := strings.ToLower(m.Text)
		if accountNumberPattern.MatchString(text) {
			hasAccount = true
		}
		if strings.Contains(text, "sms") || strings.Contains(text, "email") {
			hasChannel = true
		}
		if strings.Contains(text, "not eligible") {
			ineligible = true
		}
	}

	if !hasAccount || !hasChannel {
		var missing []string
		if !hasAccount {
			missing = append(missing, missingAccount)
		}
		if !hasChannel {
			missing = append(missing, missingChannel)
		}
		return Verdict{Kind: VerdictNeedMoreInfo, MissingInfo: strings.Join(missing, " ")}, nil
	}
	if ineligible {
		return Verdict{Kind: VerdictNotEligible}, nil
	}
	return Verdict{Kind: VerdictOK}, nil
}
