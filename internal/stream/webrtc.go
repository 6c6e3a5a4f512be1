package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is 120ms at 48kHz, the longest frame Opus produces.
const maxOpusFrame = 5760

// WebRTCHandler serves WebRTC SDP negotiation. A peer may send its microphone
// as an Opus track, which is decoded into the RemoteSource, and may open a data
// channel that receives the event stream as JSON text messages. Only one
// microphone track is accepted at a time; others are ignored until it ends.
type WebRTCHandler struct {
	events *Broadcaster[Event]
	mic    *RemoteSource

	mu      sync.Mutex
	peers   map[string]*webrtc.PeerConnection
	micPeer string
}

// NewWebRTCHandler creates a WebRTC handler. mic may be nil to refuse audio.
func NewWebRTCHandler(events *Broadcaster[Event], mic *RemoteSource) *WebRTCHandler {
	return &WebRTCHandler{
		events: events,
		mic:    mic,
		peers:  make(map[string]*webrtc.PeerConnection),
	}
}

// MicPeer returns the id of the peer feeding the microphone, or "".
func (h *WebRTCHandler) MicPeer() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.micPeer
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// ServeHTTP answers a JSON SDP offer with the local description once ICE
// gathering completes.
func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}
	id := uuid.NewString()

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeOpus) {
			slog.Warn("webrtc: ignoring non-opus track", "peer", id, "codec", track.Codec().MimeType)
			return
		}
		if h.mic == nil {
			slog.Warn("webrtc: audio track received but remote capture is disabled", "peer", id)
			return
		}
		if !h.claimMic(id) {
			slog.Warn("webrtc: microphone in use, ignoring track", "peer", id, "owner", h.MicPeer())
			return
		}
		go h.receiveAudio(id, track)
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			go h.sendEvents(id, dc)
		})
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	// Wait for ICE gathering to complete
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	<-gatherComplete

	h.mu.Lock()
	h.peers[id] = pc
	h.mu.Unlock()

	slog.Info("webrtc peer connected", "peer", id, "total", h.PeerCount())

	// Clean up on disconnect
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			if h.removePeer(id) {
				pc.Close()
				slog.Info("webrtc peer disconnected", "peer", id, "remaining", h.PeerCount())
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// receiveAudio decodes the peer's Opus track into the microphone source until
// the track ends, then gives up the microphone.
func (h *WebRTCHandler) receiveAudio(peer string, track *webrtc.TrackRemote) {
	defer h.releaseMic(peer)

	dec, err := opus.NewDecoder(OpusSampleRate, 1)
	if err != nil {
		slog.Error("webrtc: opus decoder", "peer", peer, "err", err)
		return
	}

	slog.Info("webrtc microphone attached", "peer", peer)
	pcm := make([]int16, maxOpusFrame)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			slog.Info("webrtc microphone detached", "peer", peer, "err", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			slog.Debug("webrtc: opus decode", "peer", peer, "err", err)
			continue
		}
		h.mic.Push(pcm[:n])
	}
}

// sendEvents forwards the event stream over dc until it closes.
func (h *WebRTCHandler) sendEvents(peer string, dc *webrtc.DataChannel) {
	listener := h.events.Subscribe()
	defer h.events.Unsubscribe(listener)
	dc.OnClose(func() {
		h.events.Unsubscribe(listener)
	})

	slog.Info("webrtc events channel open", "peer", peer, "label", dc.Label())

	for {
		select {
		case <-listener.Done():
			return
		case ev := <-listener.C:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := dc.SendText(string(b)); err != nil {
				slog.Debug("webrtc: data channel send", "peer", peer, "err", err)
				return
			}
		}
	}
}

// claimMic makes peer the microphone owner if nobody holds it.
func (h *WebRTCHandler) claimMic(peer string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.micPeer != "" {
		return false
	}
	h.micPeer = peer
	return true
}

func (h *WebRTCHandler) releaseMic(peer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.micPeer == peer {
		h.micPeer = ""
	}
}

func (h *WebRTCHandler) removePeer(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[id]; !ok {
		return false
	}
	delete(h.peers, id)
	if h.micPeer == id {
		h.micPeer = ""
	}
	return true
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*webrtc.PeerConnection)
	h.micPeer = ""
	h.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
}
