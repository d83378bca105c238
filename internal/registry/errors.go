package registry

import "fmt"

// DuplicateSubscriptionError reports an attempt to register a
// (topicType, agentType) pair that is already bound.
type DuplicateSubscriptionError struct {
	TopicType string
	AgentType string
}

func (e *DuplicateSubscriptionError) Error() string {
	return fmt.Sprintf("subscription already registered for topic type %q and agent type %q", e.TopicType, e.AgentType)
}
