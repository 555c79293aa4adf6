package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/capture"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// Bridge adapts one student connection to the session controller: it is
// the controller's signal source, its camera and its view.
type Bridge struct {
	conn          *Conn
	feed          *proctor.Feed
	cameraTimeout time.Duration
	log           zerolog.Logger

	seq     atomic.Uint64
	mu      sync.Mutex
	pending map[string]chan CameraReply
}

// NewBridge creates a Bridge over conn. Camera requests the browser does not
// answer within cameraTimeout fail as unavailable.
func NewBridge(conn *Conn, cameraTimeout time.Duration, log zerolog.Logger) *Bridge {
	b := &Bridge{
		conn:          conn,
		cameraTimeout: cameraTimeout,
		log:           log.With().Str("component", "ws_bridge").Logger(),
		pending:       make(map[string]chan CameraReply),
	}
	b.feed = proctor.NewFeed(func() error {
		if !conn.Send(NoticeResponse{Event: EventFullscreenRequest}) {
			return ErrClosed
		}
		return nil
	})
	return b
}

// Signals is the proctoring source fed by this connection.
func (b *Bridge) Signals() proctor.Source {
	return b.feed
}

// Render implements session.View.
func (b *Bridge) Render(s session.Snapshot) {
	b.conn.SendLatest(SnapshotResponse{Event: EventSnapshot, Data: s})
}

// SendError reports a problem to the client without closing the connection.
func (b *Bridge) SendError(msg string, fields map[string]string) {
	b.conn.Send(ErrorResponse{Event: EventError, Error: msg, Fields: fields})
}

// Serve reads frames until the connection fails, routing signals to the
// feed, camera replies to their waiting request and commands to onCommand.
// Pending camera requests are abandoned when it returns.
func (b *Bridge) Serve(onCommand func(session.Command)) error {
	defer b.abandon()

	for {
		data, err := b.conn.ReadFrame()
		if err != nil {
			return err
		}
		b.route(data, onCommand)
	}
}

func (b *Bridge) route(data []byte, onCommand func(session.Command)) {
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.SendError("invalid JSON", nil)
		return
	}
	if fields := validator.Struct(&env); fields != nil {
		b.SendError("unknown action", fields)
		return
	}

	switch env.Action {
	case ActionPing:
		b.conn.Send(NoticeResponse{Event: EventPong})

	case ActionSignal:
		var req SignalRequest
		if !b.decode(data, &req) {
			return
		}
		sig := proctor.Signal{
			Kind:       proctor.SignalKind(req.Kind),
			Fullscreen: req.Fullscreen,
			Hidden:     req.Hidden,
			Clipboard:  proctor.ClipboardAction(req.Clipboard),
		}
		if sig.Kind == proctor.SignalClipboard {
			if sig.Clipboard == "" {
				b.SendError("clipboard action required", nil)
				return
			}
			sig.Block = func() { b.conn.Send(NoticeResponse{Event: EventClipboardBlocked}) }
		}
		b.feed.Emit(sig)

	case ActionCommand:
		var req CommandRequest
		if !b.decode(data, &req) {
			return
		}
		onCommand(session.Command{
			Action:     req.Command,
			QuestionID: req.QuestionID,
			OptionID:   req.OptionID,
			Index:      req.Index,
			Note:       req.Note,
		})

	case ActionCamera:
		var reply CameraReply
		if !b.decode(data, &reply) {
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[reply.RequestID]
		delete(b.pending, reply.RequestID)
		b.mu.Unlock()
		if !ok {
			b.log.Debug().Str("request_id", reply.RequestID).Msg("Late or unknown camera reply")
			return
		}
		ch <- reply
	}
}

func (b *Bridge) decode(data []byte, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		b.SendError("invalid payload", nil)
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		b.SendError("validation failed", fields)
		return false
	}
	return true
}

// Open implements capture.Camera by asking the browser for its camera.
func (b *Bridge) Open(ctx context.Context) (capture.Stream, error) {
	reply, err := b.request(ctx, CameraOpen)
	if err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, cameraError(reply.Error)
	}
	return &remoteStream{b: b}, nil
}

func (b *Bridge) request(ctx context.Context, op CameraOp) (CameraReply, error) {
	id := strconv.FormatUint(b.seq.Add(1), 10)
	ch := make(chan CameraReply, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if !b.conn.Send(CameraRequest{Event: EventCameraRequest, RequestID: id, Op: op}) {
		return CameraReply{}, fmt.Errorf("%w: connection closed", capture.ErrCameraUnavailable)
	}

	timer := time.NewTimer(b.cameraTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-ch:
		if !ok {
			return CameraReply{}, fmt.Errorf("%w: connection closed", capture.ErrCameraUnavailable)
		}
		return reply, nil
	case <-timer.C:
		return CameraReply{}, fmt.Errorf("%w: no answer to %s", capture.ErrCameraUnavailable, op)
	case <-ctx.Done():
		return CameraReply{}, ctx.Err()
	}
}

// abandon fails every request still waiting for the browser.
func (b *Bridge) abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
}

func cameraError(code string) error {
	if code == "denied" {
		return capture.ErrCameraDenied
	}
	return capture.ErrCameraUnavailable
}

// remoteStream is a camera held open by the browser.
type remoteStream struct {
	b      *Bridge
	closed atomic.Bool
}

func (s *remoteStream) Frame(ctx context.Context) ([]byte, error) {
	if s.closed.Load() {
		return nil, errors.New("stream closed")
	}
	reply, err := s.b.request(ctx, CameraFrame)
	if err != nil {
		return nil, err
	}
	if !reply.OK || len(reply.Frame) == 0 {
		return nil, cameraError(reply.Error)
	}
	return reply.Frame, nil
}

// Close tells the browser to stop every track. No reply is awaited.
func (s *remoteStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.b.conn.Send(CameraRequest{Event: EventCameraRequest, Op: CameraClose})
	}
	return nil
}
