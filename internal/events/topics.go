package events

// Topic constants for deposit lifecycle events.
const (
	TopicDepositIntentCreated = "deposit.intent_created"
	TopicDepositSucceeded     = "deposit.succeeded"
	TopicDepositFailed        = "deposit.failed"
)

// DefaultTopics returns the canonical list of deposit topics.
func DefaultTopics() []string {
	return []string{
		TopicDepositIntentCreated,
		TopicDepositSucceeded,
		TopicDepositFailed,
	}
}
