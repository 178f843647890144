package frame

import "fmt"

type CloseMessage struct {
	ChannelID uint64
	Reason    string
}

func (msg CloseMessage) String() string {
	return fmt.Sprintf("{CloseMessage ChannelID:%d Reason:%q}", msg.ChannelID, msg.Reason)
}

func (msg CloseMessage) Channel() uint64 {
	return msg.ChannelID
}

func (msg CloseMessage) Kind() Kind {
	return KindClose
}
