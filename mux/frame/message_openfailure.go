package frame

import "fmt"

// OpenFailureMessage refuses a channel. Reason is meant for humans, Cause
// optionally carries the text of the error that made the handler fail.
type OpenFailureMessage struct {
	ChannelID uint64
	Reason    string
	Cause     string
}

func (msg OpenFailureMessage) String() string {
	return fmt.Sprintf("{OpenFailureMessage ChannelID:%d Reason:%q Cause:%q}",
		msg.ChannelID, msg.Reason, msg.Cause)
}

func (msg OpenFailureMessage) Channel() uint64 {
	return msg.ChannelID
}

func (msg OpenFailureMessage) Kind() Kind {
	return KindOpenFailure
}
