package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/flitsinc/collabhub/internal/hub"
)

const wsWriteTimeout = 10 * time.Second

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.Engine == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("engine"))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	// Subscribers never send anything; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	sub, err := s.Engine.Subscribe(ctx)
	if err != nil {
		s.logger().Error("subscribe failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer s.Engine.Unsubscribe(sub.ID)

	if err := pumpEnvelopes(ctx, sub, conn); err != nil {
		if ctx.Err() == nil {
			s.logger().Debug("websocket write failed", "subscriber", sub.ID, "error", err)
		}
		_ = conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	if sub.Evicted() {
		// The client missed envelopes and must reconnect for a fresh init.
		_ = conn.Close(websocket.StatusTryAgainLater, "subscriber fell behind")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

// pumpEnvelopes drains the subscriber queue into the writer until the
// subscriber is removed or ctx ends.
func pumpEnvelopes(ctx context.Context, sub *hub.Subscriber, writer wsWriter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return nil
		case payload := <-sub.Messages():
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := writer.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
