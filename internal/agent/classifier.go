package agent

import (
	"context"
	"strings"

	"github.com/ashureev/alertbot/internal/domain"
)

// KeywordClassifier is the rule-based classifier used when no external
// classification service is configured. It looks only at the utterance.
type KeywordClassifier struct{}

// Classify implements Classifier.
func (KeywordClassifier) Classify(_ context.Context, text string, _ []domain.Message) (Classification, error) {
	return classifyKeywords(text), nil
}

func classifyKeywords(text string) Classification {
	lower := strings.ToLower(text)

	// "unsubscribe" contains "subscribe", so it has to be tested first.
	switch {
	case strings.Contains(lower, "unsubscribe"):
		return newClassification(IntentUnsubscribe)
	case strings.Contains(lower, "subscribe"):
		c := newClassification(IntentSubscribe)
		if strings.Contains(lower, "account") {
			c.Params[SlotAccountNumber] = ""
		}
		if strings.Contains(lower, "sms") {
			c.Params[SlotChannel] = "SMS"
		}
		return c
	case strings.Contains(lower, "details"):
		return newClassification(IntentDetails)
	default:
		return Unknown()
	}
}
