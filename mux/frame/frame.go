// Package frame implements the message model exchanged by multiplexers:
// control messages that drive the channel handshake and payload messages
// that carry channel data.
package frame

import "fmt"

// Kind identifies the variant of a Message.
type Kind uint8

const (
	// KindOpen asks the remote side to open a channel of a payload type.
	KindOpen Kind = iota + 100
	// KindOpenConfirm accepts a previously requested channel.
	KindOpenConfirm
	// KindOpenFailure refuses a previously requested channel.
	KindOpenFailure
	// KindClose tears down an open channel.
	KindClose
	// KindData carries a payload on an open channel.
	KindData
)

var kindNames = map[Kind]string{
	KindOpen:        "NEW",
	KindOpenConfirm: "OK",
	KindOpenFailure: "REFUSED",
	KindClose:       "CLOSE",
	KindData:        "DATA",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Message is implemented by every message variant.
type Message interface {
	// Channel returns the id of the channel the message refers to.
	Channel() uint64
	Kind() Kind
	String() string
}

// IsControl reports whether msg is a handshake or teardown message
// rather than a payload message.
func IsControl(msg Message) bool {
	return msg.Kind() != KindData
}
