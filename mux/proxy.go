package mux

import (
	"context"
	"sync"
)

// Proxy returns a handler that forwards channels of payload type typ (and
// its subtypes) to dst. For every accepted channel a channel of the same
// type and initial message is opened on dst and payloads are relayed in
// both directions. Closing either end closes the other; a refusal from dst
// shows up as a close.
func Proxy(typ string, dst *Multiplexer) Handler {
	return &proxyHandler{
		typ:   typ,
		dst:   dst,
		peers: make(map[*Channel]*Channel),
	}
}

type proxyHandler struct {
	typ string
	dst *Multiplexer

	mu    sync.Mutex
	peers map[*Channel]*Channel
}

func (p *proxyHandler) Type() string {
	return p.typ
}

func (p *proxyHandler) Accept(src *Channel, initial any) error {
	fut, err := p.dst.EstablishChannelAsync(src.Type(), initial, relay(src))
	if err != nil {
		return err
	}
	up := fut.Channel()
	src.AddListener(relay(up))

	p.mu.Lock()
	p.peers[src] = up
	p.mu.Unlock()

	go func() {
		if _, err := fut.Wait(context.Background()); err == nil {
			<-up.Done()
		}
		src.Close()
	}()
	return nil
}

func (p *proxyHandler) Closed(src *Channel) {
	p.mu.Lock()
	up, ok := p.peers[src]
	delete(p.peers, src)
	p.mu.Unlock()
	if ok {
		up.Close()
	}
}

func relay(to *Channel) Listener {
	return ListenerFunc(func(_ *Channel, payload any) {
		// a closed peer is being torn down already
		to.Send(payload)
	})
}
