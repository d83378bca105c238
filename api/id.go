package api

// AgentID uniquely identifies one agent instance. Two AgentIDs are equal iff
// both the agent type and the instance key match. The zero value is not a
// valid identity.
type AgentID struct {
	// Type is the registered agent type this instance belongs to.
	Type string
	// Key distinguishes instances of the same type. By default it is derived
	// from the source of the topic that triggered the instance's creation.
	Key string
}

// NewAgentID builds an AgentID from an agent type and an instance key.
func NewAgentID(agentType, key string) AgentID {
	return AgentID{Type: agentType, Key: key}
}

func (id AgentID) String() string {
	return id.Type + "/" + id.Key
}

// IsZero reports whether the identity is the zero value.
func (id AgentID) IsZero() bool {
	return id.Type == "" && id.Key == ""
}

// TopicID identifies a logical channel. Type selects which subscriptions
// apply when a message is published; Source is carried through to derive the
// receiving agent's instance key.
type TopicID struct {
	Type   string
	Source string
}

// NewTopicID builds a TopicID from a topic type and a source.
func NewTopicID(topicType, source string) TopicID {
	return TopicID{Type: topicType, Source: source}
}

func (id TopicID) String() string {
	return id.Type + "/" + id.Source
}

// IsZero reports whether the identity is the zero value.
func (id TopicID) IsZero() bool {
	return id.Type == "" && id.Source == ""
}
