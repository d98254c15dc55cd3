package agent

import (
	"context"

	"github.com/ashureev/alertbot/internal/domain"
)

// CannedExecutor answers every action with a fixed success message.
type CannedExecutor struct{}

// Execute implements Executor.
func (CannedExecutor) Execute(_ context.Context, c Classification, _ domain.Session) (ActionResult, error) {
	return ActionResult{Success: true, Message: cannedActionMessage(c.Intent)}, nil
}

func cannedActionMessage(intent Intent) string {
	switch intent {
	case IntentSubscribe:
		return "You have been successfully subscribed to the alert."
	case IntentUnsubscribe:
		return "You have been unsubscribed from the alert."
	case IntentDetails:
		return "Here are the details of your alert subscription."
	default:
		return "Action completed."
	}
}
