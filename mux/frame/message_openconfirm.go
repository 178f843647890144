package frame

import "fmt"

type OpenConfirmMessage struct {
	ChannelID uint64
}

func (msg OpenConfirmMessage) String() string {
	return fmt.Sprintf("{OpenConfirmMessage ChannelID:%d}", msg.ChannelID)
}

func (msg OpenConfirmMessage) Channel() uint64 {
	return msg.ChannelID
}

func (msg OpenConfirmMessage) Kind() Kind {
	return KindOpenConfirm
}
