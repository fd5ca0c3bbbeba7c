package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/daima/pkg/protocol"
)

// Serve runs one connection until the peer closes it, an error occurs or ctx
// is done. It owns the connection's decoder state and always closes conn.
// A clean close by the peer returns nil.
func (h *Hub) Serve(ctx context.Context, conn Conn) error {
	peer := h.Register(conn)
	h.metrics.ConnectionOpened()
	logger := log.With().Uint64("conn", peer.ID).Str("remote", conn.RemoteAddr()).Logger()
	logger.Info().Msg("connection accepted")

	defer func() {
		h.Unregister(peer)
		h.metrics.ConnectionClosed()
		logger.Debug().Msg("shutting down connection")
		if err := conn.Close(); err != nil {
			logger.Debug().Err(err).Msg("close connection")
		}
	}()

	err := h.session(ctx, peer, &logger)
	switch {
	case err == nil:
		logger.Info().Msg("connection closed by peer")
	case errors.Is(err, context.Canceled):
		logger.Info().Msg("connection closed on shutdown")
	default:
		logger.Error().Err(err).Msg("connection terminated")
	}
	return err
}

func (h *Hub) session(ctx context.Context, peer *Peer, logger *zerolog.Logger) error {
	var st protocol.State = protocol.AccumulatingLength{}
	for {
		chunk, err := peer.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if st != protocol.State(protocol.AccumulatingLength{}) {
					logger.Warn().Msg("peer closed mid-frame")
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read: %w", err)
		}
		logger.Trace().Int("bytes", len(chunk)).Msg("read")

		st, err = h.limits.Advance(st, chunk)
		// Several frames may have arrived in one read.
		for err == nil {
			done, ok := st.(protocol.Complete)
			if !ok {
				break
			}
			if err := h.dispatch(ctx, peer, done.Frame, logger); err != nil {
				return err
			}
			st, err = h.limits.Start(done.Rest)
		}
		if err != nil {
			h.metrics.DecodeFailed("protocol")
			return err
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, peer *Peer, f protocol.Frame, logger *zerolog.Logger) error {
	msg, err := protocol.Decode(f, h.codec)
	if err != nil {
		h.metrics.DecodeFailed("payload")
		return err
	}
	h.metrics.FrameDecoded(msg.Type().String(), len(f.Payload))
	logger.Debug().Uint16("tag", f.Tag).Stringer("type", msg.Type()).Int("bytes", len(f.Payload)).Msg("frame received")

	if err := h.handler.HandleMessage(ctx, peer, msg); err != nil {
		return fmt.Errorf("handle %s: %w", msg.Type(), err)
	}
	return nil
}
