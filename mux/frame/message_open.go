package frame

import "fmt"

// OpenMessage requests a new channel. Type selects the handler on the
// remote side and Initial is handed to it along with the channel.
type OpenMessage struct {
	ChannelID uint64
	Type      string
	Initial   any
}

func (msg OpenMessage) String() string {
	return fmt.Sprintf("{OpenMessage ChannelID:%d Type:%q Initial:%t}",
		msg.ChannelID, msg.Type, msg.Initial != nil)
}

func (msg OpenMessage) Channel() uint64 {
	return msg.ChannelID
}

func (msg OpenMessage) Kind() Kind {
	return KindOpen
}
