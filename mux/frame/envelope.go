package frame

import "fmt"

// Envelope is the flat form of a Message used on the wire. Codecs encode
// and decode envelopes; the multiplexer only ever sees Messages.
type Envelope struct {
	Kind      Kind   `json:"kind" cbor:"kind" mapstructure:"kind"`
	ChannelID uint64 `json:"channel" cbor:"channel" mapstructure:"channel"`
	Type      string `json:"type,omitempty" cbor:"type,omitempty" mapstructure:"type"`
	Reason    string `json:"reason,omitempty" cbor:"reason,omitempty" mapstructure:"reason"`
	Cause     string `json:"cause,omitempty" cbor:"cause,omitempty" mapstructure:"cause"`
	Payload   any    `json:"payload,omitempty" cbor:"payload,omitempty" mapstructure:"payload"`
}

// Wrap flattens msg into an Envelope.
func Wrap(msg Message) Envelope {
	env := Envelope{Kind: msg.Kind(), ChannelID: msg.Channel()}
	switch m := msg.(type) {
	case OpenMessage:
		env.Type = m.Type
		env.Payload = m.Initial
	case *OpenMessage:
		env.Type = m.Type
		env.Payload = m.Initial
	case OpenFailureMessage:
		env.Reason = m.Reason
		env.Cause = m.Cause
	case *OpenFailureMessage:
		env.Reason = m.Reason
		env.Cause = m.Cause
	case CloseMessage:
		env.Reason = m.Reason
	case *CloseMessage:
		env.Reason = m.Reason
	case DataMessage:
		env.Payload = m.Payload
	case *DataMessage:
		env.Payload = m.Payload
	}
	return env
}

// Message rebuilds the Message carried by the envelope.
func (env Envelope) Message() (Message, error) {
	switch env.Kind {
	case KindOpen:
		return OpenMessage{ChannelID: env.ChannelID, Type: env.Type, Initial: env.Payload}, nil
	case KindOpenConfirm:
		return OpenConfirmMessage{ChannelID: env.ChannelID}, nil
	case KindOpenFailure:
		return OpenFailureMessage{ChannelID: env.ChannelID, Reason: env.Reason, Cause: env.Cause}, nil
	case KindClose:
		return CloseMessage{ChannelID: env.ChannelID, Reason: env.Reason}, nil
	case KindData:
		return DataMessage{ChannelID: env.ChannelID, Payload: env.Payload}, nil
	default:
		return nil, fmt.Errorf("frame: unexpected message kind %d", uint8(env.Kind))
	}
}
