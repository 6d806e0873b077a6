package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"termbridge/internal/metrics"
	"termbridge/internal/session"
	"termbridge/internal/termio"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // same-origin playground; tighten when fronted by a proxy
	},
}

// wsEvent is a server-to-client control frame. Program output travels as
// binary frames; these text frames carry lifecycle changes.
type wsEvent struct {
	Type  string `json:"type"`
	State string `json:"state,omitempty"`
}

// wsClientMessage is a client-to-server frame: one key event or a cancel
// request.
type wsClientMessage struct {
	Type    string `json:"type"`
	KeyCode int    `json:"key_code"`
	Char    string `json:"char"`
	Shift   bool   `json:"shift"`
	Alt     bool   `json:"alt"`
	Ctrl    bool   `json:"ctrl"`
}

// handleTerminal attaches a WebSocket to the session's bridge and pumps
// both directions until the client goes away. The attach seat is claimed
// before the upgrade so a second terminal gets a clean 409 instead of a
// dead socket.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	ch, err := sess.Attach(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.Detach()
		log.Error().Err(err).Str("session_id", sess.ID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	defer sess.Detach()

	log.Info().
		Str("session_id", sess.ID).
		Str("remote", r.RemoteAddr).
		Msg("Terminal attached")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Single writer: output frames and control frames both come from the
	// pump goroutine. Closing the conn is what unblocks the read loop
	// below when the pump dies.
	go func() {
		defer conn.Close()
		s.pumpOutput(ctx, conn, ch)
	}()

	s.pumpInput(ctx, cancel, conn, sess, ch)
	log.Info().Str("session_id", sess.ID).Msg("Terminal detached")
}

// pumpOutput moves program output from the ring to the socket. When a run
// completes it announces the state and stays attached, waiting for the
// next run to start instead of hanging up.
func (s *Server) pumpOutput(ctx context.Context, conn *websocket.Conn, ch *termio.Channel) {
	buf := make([]byte, 4096)
	for {
		n, err := ch.ReadOutput(ctx, buf)
		if n > 0 {
			metrics.OutputBytesTotal.Add(float64(n))
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
		}
		switch {
		case err == nil:
		case err == io.EOF:
			if werr := conn.WriteJSON(wsEvent{Type: "state", State: "completed"}); werr != nil {
				return
			}
			if !waitForNextRun(ctx, ch) {
				return
			}
			if werr := conn.WriteJSON(wsEvent{Type: "state", State: "active"}); werr != nil {
				return
			}
		default:
			return
		}
	}
}

// waitForNextRun parks until the completed run is replaced by a fresh one.
func waitForNextRun(ctx context.Context, ch *termio.Channel) bool {
	ticker := time.NewTicker(ch.PollInterval())
	defer ticker.Stop()
	for ch.State() == termio.StateCompleted {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

// pumpInput moves key events from the socket into the input ring.
func (s *Server) pumpInput(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session.Session, ch *termio.Channel) {
	defer cancel()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("session_id", sess.ID).Msg("Terminal connection lost")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("Bad terminal frame")
			continue
		}

		switch msg.Type {
		case "key":
			ev := termio.KeyEvent{
				Code:  byte(msg.KeyCode),
				Char:  firstRune(msg.Char),
				Shift: msg.Shift,
				Alt:   msg.Alt,
				Ctrl:  msg.Ctrl,
			}
			// Bounded so a full ring with nobody consuming cannot wedge
			// the read loop and starve cancel frames.
			keyCtx, keyCancel := context.WithTimeout(ctx, 100*time.Millisecond)
			err := ch.WriteKey(keyCtx, ev)
			keyCancel()
			if err != nil {
				log.Debug().Err(err).Str("session_id", sess.ID).Msg("Key event dropped")
				continue
			}
			metrics.KeyEventsTotal.Inc()
			sess.Touch()
		case "cancel":
			sess.Cancel()
		default:
			log.Warn().Str("type", msg.Type).Str("session_id", sess.ID).Msg("Unknown terminal frame type")
		}
	}
}

func firstRune(s string) rune {
	if s == "" {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return 0
	}
	return r
}
