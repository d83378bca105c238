// Package registry implements the subscription registry: the mapping from
// topic types to the agent types that receive messages published on topics of
// that type, together with the rule that derives the receiving instance's key
// from the topic source.
package registry

import (
	"github.com/alphadose/haxmap"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/casualjim/aviary/api"
)

// KeyRule derives the receiving agent's instance key from a topic source.
type KeyRule func(source string) string

// ExactSource is the default rule: the topic source becomes the agent key
// verbatim, yielding one instance per distinct source.
func ExactSource() KeyRule {
	return func(source string) string { return source }
}

// StaticKey routes every source to the same instance key, yielding a single
// shared instance per agent type regardless of source.
func StaticKey(key string) KeyRule {
	return func(string) string { return key }
}

// Subscription binds a topic type to an agent type with a key-derivation
// rule. Subscriptions are append-only for the lifetime of the runtime.
type Subscription struct {
	TopicType string
	AgentType string
	Rule      KeyRule
}

// Match is one resolved delivery target for a published topic.
type Match struct {
	AgentType string
	Key       string
}

// AgentID returns the identity of the instance this match addresses.
func (m Match) AgentID() api.AgentID {
	return api.NewAgentID(m.AgentType, m.Key)
}

// Subscriptions is the registry. Writes are expected to complete before the
// runtime starts; reads happen on every publish. The per-topic-type set keeps
// insertion order so resolution is deterministic.
type Subscriptions struct {
	topics *haxmap.Map[string, *orderedmap.OrderedMap[string, Subscription]]
}

// New creates an empty subscription registry.
func New() *Subscriptions {
	return &Subscriptions{
		topics: haxmap.New[string, *orderedmap.OrderedMap[string, Subscription]](),
	}
}

// Add registers a binding. Registering the same (topicType, agentType) pair
// twice fails with DuplicateSubscriptionError; it is never silently merged.
// A nil rule defaults to ExactSource.
func (s *Subscriptions) Add(sub Subscription) error {
	if sub.Rule == nil {
		sub.Rule = ExactSource()
	}

	set, _ := s.topics.GetOrCompute(sub.TopicType, func() *orderedmap.OrderedMap[string, Subscription] {
		return orderedmap.New[string, Subscription]()
	})
	if _, exists := set.Get(sub.AgentType); exists {
		return &DuplicateSubscriptionError{TopicType: sub.TopicType, AgentType: sub.AgentType}
	}
	set.Set(sub.AgentType, sub)
	return nil
}

// Resolve returns every registered target for the topic, pairing each
// subscribed agent type with the key obtained from that subscription's rule.
// Matching is exact string equality on the topic type; an unmatched topic
// resolves to an empty set, which is not an error.
func (s *Subscriptions) Resolve(topic api.TopicID) []Match {
	set, ok := s.topics.Get(topic.Type)
	if !ok {
		return nil
	}

	matches := make([]Match, 0, set.Len())
	for pair := set.Oldest(); pair != nil; pair = pair.Next() {
		matches = append(matches, Match{
			AgentType: pair.Value.AgentType,
			Key:       pair.Value.Rule(topic.Source),
		})
	}
	return matches
}

// Len returns the total number of registered subscriptions.
func (s *Subscriptions) Len() int {
	var n int
	s.topics.ForEach(func(_ string, set *orderedmap.OrderedMap[string, Subscription]) bool {
		n += set.Len()
		return true
	})
	return n
}
