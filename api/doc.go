// Package api defines the core contracts of the aviary runtime: the identity
// types that address agents and topics, the message context delivered with
// every payload, and the Agent interface every hosted agent implements.
//
// The identity types are small immutable values. They are comparable and are
// used as map keys throughout the runtime:
//
//   - AgentID names exactly one agent instance (type + instance key)
//   - TopicID names a logical channel (type + source)
//
// The package carries no behavior of its own beyond these value types; the
// runtime machinery lives in the root package and under internal/.
package api
