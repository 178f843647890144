package frame

import "fmt"

type DataMessage struct {
	ChannelID uint64
	Payload   any
}

func (msg DataMessage) String() string {
	return fmt.Sprintf("{DataMessage ChannelID:%d Payload: ... }", msg.ChannelID)
}

func (msg DataMessage) Channel() uint64 {
	return msg.ChannelID
}

func (msg DataMessage) Kind() Kind {
	return KindData
}
