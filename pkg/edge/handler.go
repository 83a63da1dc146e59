package edge

import (
	"sync"

	"github.com/gautambitious/jin-ai/pkg/logging"
	"github.com/gautambitious/jin-ai/pkg/protocol"
)

// StreamHandler routes server frames to the playback engine. Binary frames
// belong to the most recent stream_start until the matching stream_end or a
// stop_playback. It implements transport.Handler and never blocks the read
// loop: Feed drops on a full jitter buffer.
type StreamHandler struct {
	player *Player
	log    logging.Logger

	mu             sync.Mutex
	activeStreamID string
	sessionID      string
}

func NewStreamHandler(player *Player, log logging.Logger) *StreamHandler {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &StreamHandler{player: player, log: log}
}

// ActiveStreamID reports the stream currently bound to binary frames.
func (h *StreamHandler) ActiveStreamID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeStreamID
}

// HandleControl consumes one server control frame. Malformed JSON is logged
// and ignored.
func (h *StreamHandler) HandleControl(data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		h.log.Warn("ignoring invalid control frame", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeConnected:
		h.mu.Lock()
		h.sessionID = msg.SessionID
		h.mu.Unlock()
		h.log.Info("session established", "session_id", msg.SessionID)

	case protocol.TypeTranscript:
		if msg.IsFinal {
			h.log.Info("transcript", "text", msg.Text, "confidence", msg.Confidence)
		} else {
			h.log.Debug("interim transcript", "text", msg.Text)
		}

	case protocol.TypeIntentDetected:
		h.log.Info("intent detected", "route", msg.Route)

	case protocol.TypeRouteDecision:
		h.log.Info("route decided", "route", msg.Route)

	case protocol.TypeStreamStart:
		h.mu.Lock()
		h.activeStreamID = msg.StreamID
		h.mu.Unlock()
		h.player.BeginSession(msg.StreamID, msg.SampleRate)

	case protocol.TypeStreamEnd:
		h.mu.Lock()
		match := h.activeStreamID == msg.StreamID
		if match {
			h.activeStreamID = ""
		}
		h.mu.Unlock()
		if !match {
			h.log.Debug("stream_end for inactive stream", "stream_id", msg.StreamID)
			return
		}
		if msg.Partial {
			h.log.Warn("response truncated by the server", "stream_id", msg.StreamID)
		}
		h.player.EndSession()

	case protocol.TypeStopPlayback:
		h.mu.Lock()
		h.activeStreamID = ""
		h.mu.Unlock()
		h.player.Interrupt()

	case protocol.TypeResponseComplete:
		h.log.Info("response complete", "text", msg.Text)

	case protocol.TypeError:
		h.log.Error("server error", "message", msg.ErrMsg)

	default:
		h.log.Debug("ignoring control frame", "type", msg.Type)
	}
}

// HandleBinary forwards one PCM frame to the jitter buffer.
func (h *StreamHandler) HandleBinary(data []byte) {
	h.mu.Lock()
	active := h.activeStreamID != ""
	h.mu.Unlock()

	if !active {
		h.log.Debug("audio frame without an active stream, ignoring", "bytes", len(data))
		return
	}
	h.player.Feed(data)
}
