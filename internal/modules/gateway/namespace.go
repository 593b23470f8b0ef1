package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/campuslink/core/internal/pkg/apperr"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

// namespaceEmitter delivers through a socket.io namespace on this process.
type namespaceEmitter struct {
	nsp socketio.Namespace
}

func (e *namespaceEmitter) EmitToRoom(room, event string, payload any) {
	_ = e.nsp.To(socketio.Room(room)).Emit(event, payload)
}

func (e *namespaceEmitter) EmitAll(event string, payload any) {
	_ = e.nsp.Emit(event, payload)
}

func (h *Hub) registerNamespace(nsp socketio.Namespace) {
	// Authentication completes before the connection event, so a rejected client never
	// exchanges an application event.
	nsp.Use(func(client *socketio.Socket, next func(*socketio.ExtendedError)) {
		sess := newSession(string(client.Id()))
		if _, err := h.authenticate(context.Background(), sess, extractToken(client)); err != nil {
			h.logger.Info("handshake rejected",
				zap.String("sid", sess.ID),
				zap.String("reason", apperr.Reason(err)),
				zap.Error(err),
			)
			next(socketio.NewExtendedError(rejectReason(err), map[string]any{"reason": apperr.Reason(err)}))
			return
		}
		client.SetData(sess)
		next(nil)
	})

	_ = nsp.On("connection", func(args ...any) {
		if len(args) == 0 {
			return
		}
		client, ok := args[0].(*socketio.Socket)
		if !ok {
			return
		}
		sess, ok := client.Data().(*Session)
		if !ok {
			client.Disconnect(true)
			return
		}
		sess.setKick(func() { client.Disconnect(true) })

		h.guard(sess, "connection", func() {
			client.Join(socketio.Room(RoomFor(sess.SubjectID)))
			h.join(sess)
		})

		_ = client.On(EventTyping, func(eventArgs ...any) {
			h.guard(sess, EventTyping, func() {
				var in TypingIn
				if !decodeArg(eventArgs, &in) {
					return
				}
				h.handleTyping(context.Background(), sess, in)
			})
			closeIfEnded(client, sess)
		})

		_ = client.On(EventMessageSend, func(eventArgs ...any) {
			h.guard(sess, EventMessageSend, func() {
				ack := extractAck(eventArgs)
				var in SendIn
				var res SendAck
				if !decodeArg(eventArgs, &in) {
					res = SendAck{Success: false, Message: "invalid payload"}
				} else {
					res = h.handleSend(context.Background(), sess, in)
				}
				if ack != nil {
					ack(res)
				} else if !res.Success {
					_ = client.Emit(EventMessageError, res)
				}
			})
			closeIfEnded(client, sess)
		})

		_ = client.On("disconnect", func(_ ...any) {
			h.guard(sess, "disconnect", func() { h.leave(sess) })
		})
	})
}

// closeIfEnded drops the transport of a session whose credential stopped being valid.
func closeIfEnded(client *socketio.Socket, sess *Session) {
	if sess.State() == StateClosed {
		client.Disconnect(true)
	}
}

// guard keeps a panicking handler from taking the process down.
func (h *Hub) guard(sess *Session, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("gateway handler panic",
				zap.String("sid", sess.ID),
				zap.String("event", event),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn()
}

// extractToken reads the credential from the handshake auth payload, the query
// string or the Authorization header, in that order.
func extractToken(client *socketio.Socket) string {
	handshake := client.Handshake()
	if handshake == nil {
		return ""
	}
	if token := tokenFromAuth(handshake.Auth); token != "" {
		return token
	}
	if token := firstValueFromMultiMap(handshake.Query, "token"); token != "" {
		return token
	}
	return firstValueFromMultiMap(handshake.Headers, "authorization")
}

func tokenFromAuth(auth any) string {
	switch typed := auth.(type) {
	case map[string]any:
		if s, ok := typed["token"].(string); ok {
			return strings.TrimSpace(s)
		}
	case map[string]string:
		return strings.TrimSpace(typed["token"])
	}
	return ""
}

func firstValueFromMultiMap(values map[string][]string, key string) string {
	for k, list := range values {
		if !strings.EqualFold(strings.TrimSpace(k), key) || len(list) == 0 {
			continue
		}
		if v := strings.TrimSpace(list[0]); v != "" {
			return v
		}
	}
	return ""
}

// decodeArg converts the first event argument into out.
func decodeArg(args []any, out any) bool {
	if len(args) == 0 || args[0] == nil {
		return false
	}
	var data []byte
	switch raw := args[0].(type) {
	case string:
		data = []byte(raw)
	case []byte:
		data = raw
	default:
		encoded, err := json.Marshal(raw)
		if err != nil {
			return false
		}
		data = encoded
	}
	return json.Unmarshal(data, out) == nil
}

// extractAck returns the acknowledgement callback when the client asked for one.
func extractAck(args []any) func(SendAck) {
	if len(args) == 0 {
		return nil
	}
	switch fn := args[len(args)-1].(type) {
	case func(...any):
		return func(res SendAck) { fn(res) }
	case func([]any, error):
		return func(res SendAck) { fn([]any{res}, nil) }
	default:
		return nil
	}
}
