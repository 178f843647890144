package mux

import "strings"

// Handler decides whether inbound channels of one payload type are accepted
// and is told when such a channel closes.
type Handler interface {
	// Type is the payload type the handler is registered under.
	Type() string

	// Accept is called with a new channel, still opening, and the initial
	// message of the request. Returning nil accepts the channel; returning
	// an error (see Decline) refuses it. Listeners added to the channel
	// here are in place before any payload can arrive, and payloads sent
	// here are delivered right after the channel is confirmed.
	Accept(ch *Channel, initial any) error

	// Closed is called once for every channel Accept returned nil for, when
	// that channel closes from either side or fails to open.
	Closed(ch *Channel)
}

// HandlerFuncs adapts a pair of functions to Handler. Either function may
// be nil: a nil OnAccept accepts every channel.
type HandlerFuncs struct {
	PayloadType string
	OnAccept    func(ch *Channel, initial any) error
	OnClose     func(ch *Channel)
}

func (h HandlerFuncs) Type() string {
	return h.PayloadType
}

func (h HandlerFuncs) Accept(ch *Channel, initial any) error {
	if h.OnAccept == nil {
		return nil
	}
	return h.OnAccept(ch, initial)
}

func (h HandlerFuncs) Closed(ch *Channel) {
	if h.OnClose != nil {
		h.OnClose(ch)
	}
}

// parentType returns the nearest ancestor of a dotted payload type.
// The root type "" is the ancestor of every other type.
func parentType(typ string) (string, bool) {
	if typ == "" {
		return "", false
	}
	if i := strings.LastIndexByte(typ, '.'); i >= 0 {
		return typ[:i], true
	}
	return "", true
}
