package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

const defaultAckTimeout = 10 * time.Second

// Socket is a realtime connection. Emit waits for the matching ack; every
// other server frame is delivered on Events.
type Socket struct {
	conn       *websocket.Conn
	logger     zerolog.Logger
	ackTimeout time.Duration

	writeMu sync.Mutex
	nextAck atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan domain.Ack

	events chan domain.Frame
	done   chan struct{}
	once   sync.Once
}

// SocketOptions tunes a Socket.
type SocketOptions struct {
	AckTimeout time.Duration
	Logger     zerolog.Logger
}

// Dial opens the websocket at wsURL, e.g. ws://localhost:8088/chat/ws. A
// rejected handshake returns ErrUnauthorized.
func Dial(ctx context.Context, wsURL, token string, opts SocketOptions) (*Socket, error) {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	s := &Socket{
		conn:       conn,
		logger:     opts.Logger,
		ackTimeout: opts.AckTimeout,
		pending:    make(map[string]chan domain.Ack),
		events:     make(chan domain.Frame, 256),
		done:       make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events delivers server pushed frames. It is closed with the socket.
func (s *Socket) Events() <-chan domain.Frame {
	return s.events
}

// Done is closed once the connection is gone.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Emit sends event and waits for its ack. A missing ack after the timeout
// yields ErrAckTimeout; the event may still have been applied.
func (s *Socket) Emit(ctx context.Context, event string, data any) (domain.Ack, error) {
	ackID := strconv.FormatUint(s.nextAck.Add(1), 10)
	frame, err := domain.EncodeFrame(event, ackID, data)
	if err != nil {
		return domain.Ack{}, err
	}

	ch := make(chan domain.Ack, 1)
	s.mu.Lock()
	s.pending[ackID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, ackID)
		s.mu.Unlock()
	}()

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, frame)
	s.writeMu.Unlock()
	if err != nil {
		s.Close()
		return domain.Ack{}, ErrClosed
	}

	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()
	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		return domain.Ack{}, ErrAckTimeout
	case <-s.done:
		return domain.Ack{}, ErrClosed
	case <-ctx.Done():
		return domain.Ack{}, ctx.Err()
	}
}

func (s *Socket) readLoop() {
	defer func() {
		s.Close()
		close(s.events)
	}()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		frame, err := domain.DecodeFrame(raw)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		if frame.Event == domain.EventAck {
			s.deliverAck(frame)
			continue
		}
		select {
		case s.events <- *frame:
		case <-s.done:
			return
		}
	}
}

func (s *Socket) deliverAck(frame *domain.Frame) {
	s.mu.Lock()
	ch, ok := s.pending[frame.AckID]
	s.mu.Unlock()
	if !ok {
		// Late ack for an emit that already timed out.
		return
	}
	var ack domain.Ack
	if err := json.Unmarshal(frame.Data, &ack); err != nil {
		ack = domain.Fail(domain.CodeInternal, "malformed ack")
	}
	select {
	case ch <- ack:
	default:
	}
}

// Close tears the connection down. It is safe to call more than once.
func (s *Socket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
