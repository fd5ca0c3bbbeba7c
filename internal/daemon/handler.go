package daemon

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/omochice/daima/pkg/protocol"
)

// Handler receives every message decoded on a connection, in arrival order.
// Returning an error closes that connection.
type Handler interface {
	HandleMessage(ctx context.Context, peer *Peer, msg protocol.Message) error
}

type HandlerFunc func(ctx context.Context, peer *Peer, msg protocol.Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, peer *Peer, msg protocol.Message) error {
	return f(ctx, peer, msg)
}

// DefaultHandler records the names peers announce and ignores message kinds
// this build does not know.
var DefaultHandler Handler = HandlerFunc(registerNames)

func registerNames(_ context.Context, peer *Peer, msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Init:
		if prev := peer.Name(); prev != "" && prev != m.Name {
			log.Warn().Uint64("peer", peer.ID).Str("previous", prev).Str("name", m.Name).Msg("peer renamed itself")
		}
		peer.SetName(m.Name)
		log.Info().Uint64("peer", peer.ID).Str("name", m.Name).Msg("peer registered")
	case protocol.Unknown:
		log.Debug().Uint64("peer", peer.ID).Uint16("tag", m.Tag).Msg("ignoring unknown message")
	}
	return nil
}
