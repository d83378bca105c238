package events

import (
	"fmt"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/casualjim/aviary/api"
)

var (
	publishedJSON    = []byte(`{"type":"published"}`)
	agentCreatedJSON = []byte(`{"type":"agent_created"}`)
	deliveredJSON    = []byte(`{"type":"delivered"}`)
	errorJSON        = []byte(`{"type":"error"}`)
)

// Event is a runtime lifecycle notification. The concrete types below cover
// the full set; sinks serialize them with a "type" discriminator field.
type Event interface {
	runtimeEvent()
}

// Published records that a message was accepted for a topic and resolved
// against the subscription registry.
type Published struct {
	MessageID uuid.UUID       `json:"message_id"`
	Topic     api.TopicID     `json:"topic"`
	Sender    string          `json:"sender,omitempty"`
	Matches   int             `json:"matches"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (Published) runtimeEvent() {}

// MarshalJSON implements custom JSON marshaling for Published
func (p Published) MarshalJSON() ([]byte, error) {
	result := publishedJSON

	var err error
	result, err = sjson.SetBytes(result, "message_id", p.MessageID.String())
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "topic.type", p.Topic.Type)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "topic.source", p.Topic.Source)
	if err != nil {
		return nil, err
	}

	if p.Sender != "" {
		result, err = sjson.SetBytes(result, "sender", p.Sender)
		if err != nil {
			return nil, err
		}
	}

	result, err = sjson.SetBytes(result, "matches", p.Matches)
	if err != nil {
		return nil, err
	}

	if !p.Timestamp.IsZero() {
		result, err = sjson.SetBytes(result, "timestamp", p.Timestamp.String())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Published
func (p *Published) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "published" {
		return fmt.Errorf("missing or invalid type, expected 'published'")
	}

	messageID := gjson.GetBytes(data, "message_id")
	if !messageID.Exists() {
		return fmt.Errorf("missing required field 'message_id'")
	}
	if err := p.MessageID.UnmarshalText([]byte(messageID.String())); err != nil {
		return fmt.Errorf("invalid message_id: %w", err)
	}

	topic := gjson.GetBytes(data, "topic")
	if !topic.Exists() {
		return fmt.Errorf("missing required field 'topic'")
	}
	p.Topic = api.NewTopicID(topic.Get("type").String(), topic.Get("source").String())

	p.Sender = gjson.GetBytes(data, "sender").String()
	p.Matches = int(gjson.GetBytes(data, "matches").Int())

	if ts := gjson.GetBytes(data, "timestamp"); ts.Exists() {
		if err := p.Timestamp.UnmarshalText([]byte(ts.String())); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	return nil
}

// AgentCreated records the lazy construction of an agent instance on first
// delivery to its identity.
type AgentCreated struct {
	Agent     api.AgentID     `json:"agent"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (AgentCreated) runtimeEvent() {}

// MarshalJSON implements custom JSON marshaling for AgentCreated
func (a AgentCreated) MarshalJSON() ([]byte, error) {
	result := agentCreatedJSON

	var err error
	result, err = sjson.SetBytes(result, "agent.type", a.Agent.Type)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "agent.key", a.Agent.Key)
	if err != nil {
		return nil, err
	}

	if !a.Timestamp.IsZero() {
		result, err = sjson.SetBytes(result, "timestamp", a.Timestamp.String())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for AgentCreated
func (a *AgentCreated) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "agent_created" {
		return fmt.Errorf("missing or invalid type, expected 'agent_created'")
	}

	agent := gjson.GetBytes(data, "agent")
	if !agent.Exists() {
		return fmt.Errorf("missing required field 'agent'")
	}
	a.Agent = api.NewAgentID(agent.Get("type").String(), agent.Get("key").String())

	if ts := gjson.GetBytes(data, "timestamp"); ts.Exists() {
		if err := a.Timestamp.UnmarshalText([]byte(ts.String())); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	return nil
}

// Delivered records the successful completion of one handler invocation.
type Delivered struct {
	MessageID uuid.UUID       `json:"message_id"`
	Agent     api.AgentID     `json:"agent"`
	Payload   any             `json:"payload,omitempty"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (Delivered) runtimeEvent() {}

// MarshalJSON implements custom JSON marshaling for Delivered
func (d Delivered) MarshalJSON() ([]byte, error) {
	result := deliveredJSON

	var err error
	result, err = sjson.SetBytes(result, "message_id", d.MessageID.String())
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "agent.type", d.Agent.Type)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "agent.key", d.Agent.Key)
	if err != nil {
		return nil, err
	}

	if d.Payload != nil {
		payloadBytes, err := json.Marshal(d.Payload)
		if err != nil {
			return nil, err
		}
		result, err = sjson.SetRawBytes(result, "payload", payloadBytes)
		if err != nil {
			return nil, err
		}
	}

	if !d.Timestamp.IsZero() {
		result, err = sjson.SetBytes(result, "timestamp", d.Timestamp.String())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Delivered. The
// payload is kept as raw JSON because the concrete Go type is not known on
// the receiving side.
func (d *Delivered) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "delivered" {
		return fmt.Errorf("missing or invalid type, expected 'delivered'")
	}

	messageID := gjson.GetBytes(data, "message_id")
	if !messageID.Exists() {
		return fmt.Errorf("missing required field 'message_id'")
	}
	if err := d.MessageID.UnmarshalText([]byte(messageID.String())); err != nil {
		return fmt.Errorf("invalid message_id: %w", err)
	}

	agent := gjson.GetBytes(data, "agent")
	if !agent.Exists() {
		return fmt.Errorf("missing required field 'agent'")
	}
	d.Agent = api.NewAgentID(agent.Get("type").String(), agent.Get("key").String())

	if payload := gjson.GetBytes(data, "payload"); payload.Exists() {
		d.Payload = payload.Value()
	}

	if ts := gjson.GetBytes(data, "timestamp"); ts.Exists() {
		if err := d.Timestamp.UnmarshalText([]byte(ts.String())); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	return nil
}

// Error records a failed delivery: an unhandled message type, a handler
// error, or a factory failure during lazy construction.
type Error struct {
	Agent     api.AgentID     `json:"agent"`
	Err       error           `json:"error"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (Error) runtimeEvent() {}

func (e Error) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

func (e Error) Unwrap() error { return e.Err }

// MarshalJSON implements custom JSON marshaling for Error
func (e Error) MarshalJSON() ([]byte, error) {
	result := errorJSON

	var err error
	result, err = sjson.SetBytes(result, "agent.type", e.Agent.Type)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "agent.key", e.Agent.Key)
	if err != nil {
		return nil, err
	}

	if e.Err != nil {
		result, err = sjson.SetBytes(result, "error", e.Err.Error())
		if err != nil {
			return nil, err
		}
	}

	if !e.Timestamp.IsZero() {
		result, err = sjson.SetBytes(result, "timestamp", e.Timestamp.String())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Error. The error is
// reconstructed as an opaque message.
func (e *Error) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "error" {
		return fmt.Errorf("missing or invalid type, expected 'error'")
	}

	agent := gjson.GetBytes(data, "agent")
	if agent.Exists() {
		e.Agent = api.NewAgentID(agent.Get("type").String(), agent.Get("key").String())
	}

	if msg := gjson.GetBytes(data, "error"); msg.Exists() {
		e.Err = fmt.Errorf("%s", msg.String())
	}

	if ts := gjson.GetBytes(data, "timestamp"); ts.Exists() {
		if err := e.Timestamp.UnmarshalText([]byte(ts.String())); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	return nil
}

// ToJSON serializes any runtime event with its type discriminator.
func ToJSON(event Event) ([]byte, error) {
	switch event := event.(type) {
	case Published:
		return event.MarshalJSON()
	case AgentCreated:
		return event.MarshalJSON()
	case Delivered:
		return event.MarshalJSON()
	case Error:
		return event.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown event type: %T", event)
	}
}

// FromJSON deserializes a runtime event based on its type discriminator.
func FromJSON(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %s", data)
	}

	switch typ := gjson.GetBytes(data, "type").String(); typ {
	case "published":
		var event Published
		if err := event.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return event, nil
	case "agent_created":
		var event AgentCreated
		if err := event.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return event, nil
	case "delivered":
		var event Delivered
		if err := event.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return event, nil
	case "error":
		var event Error
		if err := event.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return event, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", typ)
	}
}
