package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/docchat/internal/metrics"
	"github.com/rickgao/docchat/internal/protocol"
)

// outbound is an encoded frame waiting for the handshake to finish.
type outbound struct {
	event string
	frame []byte
}

// Socket is a Socket.IO client connection pinned to the websocket transport.
// The zero value is not usable; construct with NewSocket.
type Socket struct {
	cfg    SocketConfig
	logger *slog.Logger

	endpoint    protocol.Endpoint
	endpointErr error

	listeners *listeners
	inbox     *queue[protocol.Event]
	outbox    *queue[outbound]

	dispatchOnce sync.Once
	dispatchDone chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	state     State
	conn      *websocket.Conn
	sid       string
	handshake protocol.Handshake
	lastPing  time.Time

	// Acknowledgement correlation
	ackMu  sync.Mutex
	nextID uint64
	acks   map[uint64]chan []json.RawMessage

	done      chan struct{}
	closeOnce sync.Once
}

// NewSocket creates a socket. It does not touch the network until Connect.
// Listeners may be registered and events emitted before connecting.
func NewSocket(cfg SocketConfig, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultSocketConfig()
	if cfg.Path == "" {
		cfg.Path = defaults.Path
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaults.InboxSize
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaults.OutboxSize
	}

	s := &Socket{
		cfg:          cfg,
		logger:       logger,
		listeners:    newListeners(),
		inbox:        newQueue[protocol.Event](cfg.InboxSize),
		outbox:       newQueue[outbound](cfg.OutboxSize),
		dispatchDone: make(chan struct{}),
		acks:         make(map[uint64]chan []json.RawMessage),
		done:         make(chan struct{}),
	}
	s.endpoint, s.endpointErr = protocol.BuildEndpoint(cfg.URL, cfg.Path, cfg.Namespace)
	return s
}

// Connect dials the server and completes the Engine.IO and Socket.IO
// handshakes. A Socket connects at most once; failures are also reported to
// EventConnectError listeners and leave the socket closed.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrAlreadyClosed
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()

	s.dispatchOnce.Do(func() { go s.dispatchLoop() })

	// Close abandons an in-flight dial or handshake.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.connect(ctx); err != nil {
		if s.State() == StateClosed {
			// Close already reported connect_error.
			return ErrAlreadyClosed
		}
		metrics.SocketConnectErrors.Inc()
		s.logger.Warn("socket connect failed", "url", s.cfg.URL, "error", err)
		// Listeners see connect_error only once Emit already fails.
		s.shutdown(err.Error(), true)
		return err
	}
	return nil
}

func (s *Socket) connect(ctx context.Context) error {
	if err := protocol.CheckTransports(s.cfg.Transports); err != nil {
		return err
	}
	if s.endpointErr != nil {
		return s.endpointErr
	}

	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint.URL, s.cfg.Header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.endpoint.URL, err)
	}

	// Handshake reads are bounded by ctx; unblock them when it ends.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	hs, sid, early, err := s.handshakeOn(conn)
	if err != nil {
		conn.Close()
		return err
	}
	if !stop() {
		conn.Close()
		return ctx.Err()
	}
	conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	s.conn = conn
	s.sid = sid
	s.handshake = hs
	s.lastPing = time.Now()

	// Flush emits made while connecting, oldest first, before anything else
	// can write.
	for _, out := range s.outbox.drain() {
		if err := s.writeFrame(conn, out.frame); err != nil {
			s.mu.Unlock()
			conn.Close()
			return fmt.Errorf("flush buffered %s: %w", out.event, err)
		}
		if out.event != "" {
			metrics.SocketEventsEmitted.WithLabelValues(out.event).Inc()
		}
	}
	metrics.SocketBufferedPackets.Set(0)
	s.state = StateConnected
	s.mu.Unlock()

	metrics.SocketConnected.Set(1)
	s.logger.Debug("socket connected",
		"url", s.endpoint.URL,
		"namespace", s.endpoint.Namespace,
		"sid", sid,
		"ping_interval_ms", hs.PingInterval,
	)

	// connect is observed before any event that arrived with the handshake.
	s.emitLocal(EventConnect, sid)
	for _, ev := range early {
		s.deliver(ev)
	}

	go s.readLoop(conn)
	go s.heartbeatLoop(hs.StaleAfter())

	return nil
}

// handshakeOn reads the Engine.IO open packet, joins the namespace and waits
// for the server's CONNECT. Events that arrive before it are returned so they
// can be delivered after EventConnect.
func (s *Socket) handshakeOn(conn *websocket.Conn) (protocol.Handshake, string, []protocol.Event, error) {
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return protocol.Handshake{}, "", nil, fmt.Errorf("%w: read open: %v", ErrHandshake, err)
	}
	open, err := protocol.DecodeEngine(frame)
	if err != nil {
		return protocol.Handshake{}, "", nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if open.Type != protocol.EngineOpen {
		return protocol.Handshake{}, "", nil, fmt.Errorf("%w: expected open packet, got %v", ErrHandshake, open.Type)
	}
	hs, err := protocol.ParseHandshake(open.Data)
	if err != nil {
		return protocol.Handshake{}, "", nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	join := protocol.Packet{Type: protocol.PacketConnect, Namespace: s.endpoint.Namespace}
	if len(s.cfg.Auth) > 0 {
		auth, err := json.Marshal(s.cfg.Auth)
		if err != nil {
			return protocol.Handshake{}, "", nil, fmt.Errorf("marshal auth: %w", err)
		}
		join.Data = auth
	}
	if err := s.writeFrame(conn, join.EngineMessage().Encode()); err != nil {
		return protocol.Handshake{}, "", nil, fmt.Errorf("%w: join namespace: %v", ErrHandshake, err)
	}

	var early []protocol.Event
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return protocol.Handshake{}, "", nil, fmt.Errorf("%w: await connect: %v", ErrHandshake, err)
		}
		pkt, err := protocol.DecodeEngine(frame)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch pkt.Type {
		case protocol.EnginePing:
			if err := s.writeFrame(conn, protocol.EnginePacket{Type: protocol.EnginePong, Data: pkt.Data}.Encode()); err != nil {
				return protocol.Handshake{}, "", nil, fmt.Errorf("%w: pong: %v", ErrHandshake, err)
			}
		case protocol.EngineClose:
			return protocol.Handshake{}, "", nil, fmt.Errorf("%w: server closed the transport", ErrHandshake)
		case protocol.EngineMessage:
			p, err := protocol.DecodePacket(pkt.Data)
			if err != nil {
				s.logger.Warn("dropping malformed packet", "error", err)
				continue
			}
			if p.Namespace != s.endpoint.Namespace {
				continue
			}
			switch p.Type {
			case protocol.PacketConnect:
				var ack protocol.ConnectAck
				if len(p.Data) > 0 {
					_ = json.Unmarshal(p.Data, &ack)
				}
				return hs, ack.SID, early, nil
			case protocol.PacketConnectError:
				return protocol.Handshake{}, "", nil, &ConnectError{Message: protocol.ParseConnectError(p.Data).Message}
			case protocol.PacketEvent:
				if ev, ok := s.decodeEvent(p); ok {
					early = append(early, ev)
				}
			}
		}
	}
}

// Close leaves the namespace and closes the transport. Safe to call more than
// once and before Connect.
func (s *Socket) Close() error {
	s.mu.RLock()
	state := s.state
	conn := s.conn
	s.mu.RUnlock()

	if state == StateClosed {
		return nil
	}

	if state == StateConnected && conn != nil {
		leave := protocol.Packet{Type: protocol.PacketDisconnect, Namespace: s.endpoint.Namespace}
		if err := s.writeFrame(conn, leave.EngineMessage().Encode()); err != nil {
			s.logger.Debug("failed to send disconnect", "error", err)
		}
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}

	s.shutdown(ReasonClientDisconnect, true)
	return nil
}

// On registers fn for event and returns a handle for Off.
func (s *Socket) On(event string, fn Handler) Listener {
	if fn == nil {
		return 0
	}
	return s.listeners.add(event, fn, false)
}

// Once registers fn for the next occurrence of event only.
func (s *Socket) Once(event string, fn Handler) Listener {
	if fn == nil {
		return 0
	}
	return s.listeners.add(event, fn, true)
}

// Off removes the given listeners of event. With no listeners given it
// removes every listener of event.
func (s *Socket) Off(event string, ids ...Listener) {
	s.listeners.remove(event, ids...)
}

// ListenerCount returns how many listeners are registered for event.
func (s *Socket) ListenerCount(event string) int {
	return s.listeners.count(event)
}

// Emit sends event with args to the server. While the socket is connecting
// the packet is queued and written once the handshake completes.
// Emit does not wait for delivery and never retries.
func (s *Socket) Emit(event string, args ...any) error {
	if isReserved(event) {
		return fmt.Errorf("%w: %s", ErrReservedEvent, event)
	}
	data, err := protocol.MarshalEvent(event, args...)
	if err != nil {
		return err
	}
	return s.send(event, protocol.Packet{Type: protocol.PacketEvent, Namespace: s.endpoint.Namespace, Data: data})
}

// EmitWithAck sends event and waits for the server's acknowledgement.
func (s *Socket) EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error) {
	if isReserved(event) {
		return nil, fmt.Errorf("%w: %s", ErrReservedEvent, event)
	}
	data, err := protocol.MarshalEvent(event, args...)
	if err != nil {
		return nil, err
	}

	id, ch := s.registerAck()
	defer s.unregisterAck(id)

	pkt := protocol.Packet{Type: protocol.PacketEvent, Namespace: s.endpoint.Namespace, ID: &id, Data: data}
	if err := s.send(event, pkt); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrAlreadyClosed
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ID returns the Socket.IO session id assigned by the server.
func (s *Socket) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sid
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected reports whether the handshake completed and the socket is open.
func (s *Socket) Connected() bool {
	return s.State() == StateConnected
}

// Endpoint returns the resolved dial target.
func (s *Socket) Endpoint() protocol.Endpoint {
	return s.endpoint
}

// Done is closed once the socket has shut down. Listeners may still be
// running for events queued before that; use Finished to wait for them.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Finished is closed after the socket has shut down and every queued event,
// including the final connect_error or disconnect, has reached its listeners.
func (s *Socket) Finished() <-chan struct{} {
	return s.dispatchDone
}

// send writes pkt now or queues it until the handshake completes.
func (s *Socket) send(event string, pkt protocol.Packet) error {
	frame := pkt.EngineMessage().Encode()

	s.mu.RLock()
	switch s.state {
	case StateClosed:
		s.mu.RUnlock()
		return ErrAlreadyClosed
	case StateConnected:
		conn := s.conn
		s.mu.RUnlock()
		if err := s.writeFrame(conn, frame); err != nil {
			return fmt.Errorf("emit %s: %w", event, err)
		}
		if event != "" {
			metrics.SocketEventsEmitted.WithLabelValues(event).Inc()
		}
		return nil
	default:
		// Connect flushes under the write lock, so nothing queued here is missed.
		s.outbox.push(outbound{event: event, frame: frame})
		s.mu.RUnlock()
		metrics.SocketBufferedPackets.Set(float64(s.outbox.len()))
		return nil
	}
}

func (s *Socket) writeFrame(conn *websocket.Conn, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop reads frames until the transport fails or the socket closes.
func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			reason := ReasonTransportError
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = ReasonTransportClose
			}
			s.logger.Debug("socket read failed", "error", err, "reason", reason)
			s.shutdown(reason, true)
			return
		}

		if msgType == websocket.BinaryMessage {
			s.logger.Warn("dropping binary frame", "error", protocol.ErrBinaryUnsupported, "bytes", len(data))
			continue
		}

		pkt, err := protocol.DecodeEngine(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch pkt.Type {
		case protocol.EnginePing:
			s.touch()
			if err := s.writeFrame(conn, protocol.EnginePacket{Type: protocol.EnginePong, Data: pkt.Data}.Encode()); err != nil {
				s.logger.Debug("failed to send pong", "error", err)
			}
		case protocol.EngineClose:
			s.shutdown(ReasonTransportClose, true)
			return
		case protocol.EngineMessage:
			if s.handleMessage(pkt.Data) {
				return
			}
		}
	}
}

// handleMessage processes one Socket.IO packet. Returns true when the server
// ended the session.
func (s *Socket) handleMessage(raw []byte) bool {
	p, err := protocol.DecodePacket(raw)
	if err != nil {
		s.logger.Warn("dropping malformed packet", "error", err)
		return false
	}
	if p.Namespace != s.endpoint.Namespace {
		s.logger.Debug("ignoring packet for other namespace", "namespace", p.Namespace)
		return false
	}

	switch p.Type {
	case protocol.PacketEvent:
		if ev, ok := s.decodeEvent(p); ok {
			s.deliver(ev)
		}
	case protocol.PacketAck:
		s.resolveAck(*p.ID, p.Data)
	case protocol.PacketDisconnect:
		s.shutdown(ReasonServerDisconnect, true)
		return true
	case protocol.PacketBinaryEvent, protocol.PacketBinaryAck:
		s.logger.Warn("dropping packet", "type", p.Type, "error", protocol.ErrBinaryUnsupported)
	}
	return false
}

func (s *Socket) decodeEvent(p protocol.Packet) (protocol.Event, bool) {
	ev, err := protocol.UnmarshalEvent(p.Data)
	if err != nil {
		s.logger.Warn("dropping malformed event", "error", err)
		return protocol.Event{}, false
	}
	if isReserved(ev.Name) {
		s.logger.Warn("dropping event with reserved name", "event", ev.Name)
		return protocol.Event{}, false
	}
	if p.ID != nil {
		ev = ev.WithAck(s.ackFunc(*p.ID))
	}
	return ev, true
}

func (s *Socket) deliver(ev protocol.Event) {
	metrics.SocketEventsReceived.WithLabelValues(ev.Name).Inc()
	s.inbox.push(ev)
}

// emitLocal queues a reserved event for listeners.
func (s *Socket) emitLocal(name string, args ...any) {
	ev, err := protocol.NewEvent(name, args...)
	if err != nil {
		s.logger.Error("failed to build local event", "event", name, "error", err)
		return
	}
	s.inbox.push(ev)
}

// dispatchLoop runs listeners one event at a time, in arrival order.
func (s *Socket) dispatchLoop() {
	defer close(s.dispatchDone)
	for {
		ev, ok := s.inbox.pop()
		if !ok {
			return
		}
		for _, fn := range s.listeners.take(ev.Name) {
			s.invoke(fn, ev)
		}
	}
}

func (s *Socket) invoke(fn Handler, ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("listener panicked", "event", ev.Name, "panic", r)
		}
	}()
	fn(ev)
}

// heartbeatLoop closes the socket when the server stops pinging.
func (s *Socket) heartbeatLoop(staleAfter time.Duration) {
	if staleAfter <= 0 {
		return
	}
	interval := staleAfter / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			lastPing := s.lastPing
			s.mu.RUnlock()

			if time.Since(lastPing) > staleAfter {
				s.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", staleAfter,
				)
				s.shutdown(ReasonPingTimeout, true)
				return
			}
		}
	}
}

func (s *Socket) touch() {
	s.mu.Lock()
	s.lastPing = time.Now()
	s.mu.Unlock()
}

// shutdown moves the socket to StateClosed exactly once. When notify is set,
// listeners receive EventDisconnect with reason if the socket had connected,
// or EventConnectError with reason as the message if it was still connecting.
func (s *Socket) shutdown(reason string, notify bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = StateClosed
		conn := s.conn
		s.mu.Unlock()

		close(s.done)
		if conn != nil {
			conn.Close()
		}

		s.failAcks()
		if dropped := s.outbox.drain(); len(dropped) > 0 {
			s.logger.Warn("discarding buffered packets", "count", len(dropped))
		}
		s.outbox.close()

		metrics.SocketConnected.Set(0)
		metrics.SocketBufferedPackets.Set(0)

		if notify {
			switch prev {
			case StateConnected:
				s.logger.Info("socket disconnected", "reason", reason)
				s.emitLocal(EventDisconnect, reason)
			case StateConnecting:
				s.logger.Debug("socket closed while connecting", "reason", reason)
				s.emitLocal(EventConnectError, protocol.ConnectErrorData{Message: reason})
			}
		}
		s.inbox.close()

		// Finished must close even if Connect never ran.
		s.dispatchOnce.Do(func() { go s.dispatchLoop() })
	})
}

func (s *Socket) registerAck() (uint64, chan []json.RawMessage) {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan []json.RawMessage, 1)
	s.acks[id] = ch
	return id, ch
}

func (s *Socket) unregisterAck(id uint64) {
	s.ackMu.Lock()
	delete(s.acks, id)
	s.ackMu.Unlock()
}

func (s *Socket) resolveAck(id uint64, data json.RawMessage) {
	s.ackMu.Lock()
	ch, ok := s.acks[id]
	delete(s.acks, id)
	s.ackMu.Unlock()

	if !ok {
		s.logger.Debug("ack for unknown id", "id", id)
		return
	}
	args, err := protocol.UnmarshalArgs(data)
	if err != nil {
		s.logger.Warn("malformed ack", "id", id, "error", err)
	}
	ch <- args
}

func (s *Socket) failAcks() {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	for id, ch := range s.acks {
		close(ch)
		delete(s.acks, id)
	}
}

// ackFunc answers a server acknowledgement request at most once.
func (s *Socket) ackFunc(id uint64) func(args ...any) error {
	var sent atomic.Bool
	return func(args ...any) error {
		if !sent.CompareAndSwap(false, true) {
			return errors.New("acknowledgement already sent")
		}
		data, err := protocol.MarshalArgs(args...)
		if err != nil {
			return err
		}
		return s.send("", protocol.Packet{Type: protocol.PacketAck, Namespace: s.endpoint.Namespace, ID: &id, Data: data})
	}
}

func isReserved(event string) bool {
	switch event {
	case EventConnect, EventConnectError, EventDisconnect:
		return true
	}
	return false
}
