package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/campuslink/core/internal/modules/presence"
	"github.com/campuslink/core/internal/pkg/apperr"
	jwtpkg "github.com/campuslink/core/internal/pkg/jwt"
	pkgredis "github.com/campuslink/core/internal/pkg/redis"
	"github.com/campuslink/core/internal/pkg/session"
	"github.com/google/uuid"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

// NewHub builds the socket.io server and registers the namespace. rc may be nil, in
// which case fan-out is disabled.
func NewHub(rc *pkgredis.Client, sessions *session.Manager, tracker *presence.Tracker, logger *zap.Logger, opts Options) *Hub {
	h := newHub(rc, sessions, tracker, logger, opts)

	serverOpts := socketio.DefaultServerOptions()
	serverOpts.SetConnectTimeout(h.timeout)
	h.sio = socketio.NewServer(nil, serverOpts)
	nsp := h.sio.Of(h.namespace, nil)
	h.out = &namespaceEmitter{nsp: nsp}
	h.registerNamespace(nsp)
	return h
}

func newHub(rc *pkgredis.Client, sessions *session.Manager, tracker *presence.Tracker, logger *zap.Logger, opts Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = presence.NewTracker()
	}
	ns := strings.TrimSpace(opts.Namespace)
	if ns == "" {
		ns = DefaultNamespace
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	h := &Hub{
		nodeID:    uuid.NewString(),
		namespace: ns,
		timeout:   timeout,
		fanout:    opts.Fanout && rc != nil,
		sessions:  sessions,
		tracker:   tracker,
		rc:        rc,
		logger:    logger.Named("Gateway"),
		outbound:  make(chan Message, outboundBuffer),
		presence:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if sessions != nil {
		sessions.OnRevoke(func(token string) { h.DisconnectToken(token) })
	}
	return h
}

// SetMessageHandler wires the chat pipeline. The pipeline itself emits through the
// hub, so it is attached after both are built.
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.handlerMu.Lock()
	h.handler = handler
	h.handlerMu.Unlock()
}

func (h *Hub) messageHandler() MessageHandler {
	h.handlerMu.RLock()
	defer h.handlerMu.RUnlock()
	return h.handler
}

// Tracker exposes the presence tracker.
func (h *Hub) Tracker() *presence.Tracker { return h.tracker }

// NodeID identifies this process on the fan-out channel.
func (h *Hub) NodeID() string { return h.nodeID }

// Run serializes outbound deliveries and presence broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.doneOnce.Do(func() { close(h.done) })
	if h.fanout {
		go h.subscribeRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			if h.sio != nil {
				h.sio.Close(nil)
			}
			return

		case msg := <-h.outbound:
			h.deliver(msg)
			h.publish(ctx, msg)

		case <-h.presence:
			h.deliver(Message{Event: EventPresenceUpdate, Payload: h.tracker.OnlineSubjects()})
		}
	}
}

// EmitToSubject queues event for every session of subjectID, on this process and,
// with fan-out enabled, on the others.
func (h *Hub) EmitToSubject(subjectID, event string, payload any) {
	if subjectID == "" || event == "" {
		return
	}
	h.enqueue(Message{Event: event, Payload: payload, Room: RoomFor(subjectID)})
}

// Broadcast queues event for every connected session.
func (h *Hub) Broadcast(event string, payload any) {
	h.enqueue(Message{Event: event, Payload: payload})
}

func (h *Hub) enqueue(msg Message) {
	select {
	case h.outbound <- msg:
	case <-h.done:
		h.logger.Debug("gateway stopped, dropping event", zap.String("event", msg.Event))
	}
}

// notifyPresence requests a full-list broadcast. Pending requests coalesce; the list
// is read when the broadcast is sent so the latest mutation wins.
func (h *Hub) notifyPresence() {
	select {
	case h.presence <- struct{}{}:
	default:
	}
}

func (h *Hub) deliver(msg Message) {
	if h.out == nil {
		return
	}
	if msg.Room == "" {
		h.out.EmitAll(msg.Event, msg.Payload)
		return
	}
	h.out.EmitToRoom(msg.Room, msg.Event, msg.Payload)
}

func (h *Hub) publish(ctx context.Context, msg Message) {
	if !h.fanout {
		return
	}
	msg.Node = h.nodeID
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("gateway encode failed", zap.String("event", msg.Event), zap.Error(err))
		return
	}
	if err := h.rc.Publish(ctx, redisChanEvents, string(data)); err != nil {
		h.logger.Warn("gateway publish failed", zap.String("channel", redisChanEvents), zap.Error(err))
	}
}

// subscribeRedis delivers emissions published by other processes.
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rc.Subscribe(ctx, redisChanEvents)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case redisMsg, ok := <-ch:
			if !ok {
				return
			}
			msg, ok := h.decodeRemote(redisMsg.Payload)
			if !ok {
				continue
			}
			h.deliver(msg)
		}
	}
}

func (h *Hub) decodeRemote(raw string) (Message, bool) {
	var in wireMessage
	if err := json.Unmarshal([]byte(raw), &in); err != nil || in.Event == "" {
		return Message{}, false
	}
	if in.Node == h.nodeID {
		return Message{}, false
	}
	var payload any
	if len(in.Payload) > 0 {
		if err := json.Unmarshal(in.Payload, &payload); err != nil {
			return Message{}, false
		}
	}
	return Message{Event: in.Event, Payload: payload, Room: in.Room, Node: in.Node}, true
}

// authenticate runs the handshake checks for a connecting session.
func (h *Hub) authenticate(ctx context.Context, sess *Session, token string) (*jwtpkg.Claims, error) {
	sess.advance(StateAuthenticating)
	if h.sessions == nil {
		return nil, apperr.ErrInvalidCredential
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	claims, err := h.sessions.Authenticate(ctx, token)
	if err != nil {
		sess.advance(StateClosed)
		return nil, err
	}
	sess.SubjectID = claims.UserID
	sess.Token = session.NormalizeToken(token)
	return claims, nil
}

// join records an authenticated session and announces presence.
func (h *Hub) join(sess *Session) {
	if !sess.advance(StateJoined) {
		return
	}
	h.live.Store(sess.ID, sess)
	if h.tracker.Add(sess.SubjectID, sess.ID) {
		h.logger.Debug("subject online", zap.String("subject", sess.SubjectID))
	}
	h.notifyPresence()
}

// leave is safe to call more than once.
func (h *Hub) leave(sess *Session) {
	wasJoined := sess.State() == StateJoined
	if !sess.advance(StateClosed) || !wasJoined {
		return
	}
	h.live.Delete(sess.ID)
	if h.tracker.Remove(sess.SubjectID, sess.ID) {
		h.logger.Debug("subject offline", zap.String("subject", sess.SubjectID))
	}
	h.notifyPresence()
}

// revalidate rechecks the credential of a joined session. A credential that was
// revoked or expired since the handshake closes the session; a failed lookup only
// fails the current operation.
func (h *Hub) revalidate(ctx context.Context, sess *Session) error {
	if h.sessions == nil {
		return apperr.ErrInvalidCredential
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	_, err := h.sessions.Authenticate(ctx, sess.Token)
	if err == nil {
		return nil
	}
	if rejectReason(err) != "Unavailable" {
		h.logger.Info("session credential no longer valid",
			zap.String("sid", sess.ID),
			zap.String("subject", sess.SubjectID),
			zap.String("reason", apperr.Reason(err)),
		)
		h.leave(sess)
	}
	return err
}

// DisconnectToken closes every local session opened with token and reports how
// many were closed.
func (h *Hub) DisconnectToken(token string) int {
	token = session.NormalizeToken(token)
	if token == "" {
		return 0
	}
	closed := 0
	h.live.Range(func(_, v any) bool {
		sess := v.(*Session)
		if sess.Token != token {
			return true
		}
		h.leave(sess)
		sess.disconnect()
		closed++
		return true
	})
	if closed > 0 {
		h.logger.Info("sessions closed after revocation", zap.Int("count", closed))
	}
	return closed
}

// handleTyping relays a typing indicator to the addressed subject only. It is dropped
// when nobody could receive it.
func (h *Hub) handleTyping(ctx context.Context, sess *Session, in TypingIn) bool {
	if sess.State() != StateJoined {
		return false
	}
	to := strings.TrimSpace(in.To)
	if to == "" || to == sess.SubjectID {
		return false
	}
	if err := h.revalidate(ctx, sess); err != nil {
		return false
	}
	if !h.fanout && !h.tracker.IsOnline(to) {
		return false
	}
	h.EmitToSubject(to, EventTyping, TypingOut{From: sess.SubjectID, ChatID: strings.TrimSpace(in.ChatID)})
	return true
}

// handleSend forwards a message:send to the chat pipeline. The sender is always the
// authenticated subject.
func (h *Hub) handleSend(ctx context.Context, sess *Session, in SendIn) SendAck {
	if sess.State() != StateJoined {
		return SendAck{Success: false, Message: "session is not joined"}
	}
	if err := h.revalidate(ctx, sess); err != nil {
		return SendAck{Success: false, Message: rejectReason(err)}
	}
	handler := h.messageHandler()
	if handler == nil {
		return SendAck{Success: false, Message: "messaging unavailable"}
	}
	msg, err := handler.SendMessage(ctx, in.ChatID, sess.SubjectID, in.receiverID(), in.Text)
	if err != nil {
		if !errors.Is(err, apperr.ErrValidation) && !errors.Is(err, apperr.ErrNotFound) {
			h.logger.Warn("message:send failed", zap.String("subject", sess.SubjectID), zap.Error(err))
		}
		return SendAck{Success: false, Message: errorText(err)}
	}
	return SendAck{Success: true, Message: msg}
}

func errorText(err error) string {
	switch {
	case errors.Is(err, apperr.ErrTransientStore):
		return "store temporarily unavailable"
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrNotFound):
		return err.Error()
	default:
		return "internal error"
	}
}

// rejectReason is the connect_error message for a failed handshake.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrMissingCredential):
		return "MissingCredential"
	case errors.Is(err, apperr.ErrTokenRevoked):
		return "TokenRevoked"
	case errors.Is(err, apperr.ErrInvalidCredential):
		return "InvalidCredential"
	case errors.Is(err, apperr.ErrTransientStore), errors.Is(err, context.DeadlineExceeded):
		return "Unavailable"
	default:
		return "InvalidCredential"
	}
}
