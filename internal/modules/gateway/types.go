package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/campuslink/core/internal/models"
	"github.com/campuslink/core/internal/modules/presence"
	pkgredis "github.com/campuslink/core/internal/pkg/redis"
	"github.com/campuslink/core/internal/pkg/session"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

// Event names.
const (
	EventTyping         = "typing"
	EventPresenceUpdate = "presence:update"
	EventMessageSend    = "message:send"
	EventMessageError   = "message:error"
	// EventPostCreated is reserved for the feed broadcast.
	EventPostCreated = "post:created"
)

const (
	DefaultNamespace        = "/"
	DefaultHandshakeTimeout = 10 * time.Second

	redisChanEvents = "campus:gateway:events"
	roomPrefix      = "user:"
	outboundBuffer  = 1024
)

// State is the lifecycle of one real-time session.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RoomFor returns the room every session of a subject joins.
func RoomFor(subjectID string) string { return roomPrefix + subjectID }

// Message is the envelope used by hub deliveries and Redis fan-out. An empty Room
// addresses every connected session.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Room    string `json:"room,omitempty"`
	Node    string `json:"node,omitempty"`
}

// wireMessage is Message as read back from Redis.
type wireMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Room    string          `json:"room,omitempty"`
	Node    string          `json:"node,omitempty"`
}

// TypingIn is the client typing event.
type TypingIn struct {
	ChatID string `json:"chatId"`
	To     string `json:"to"`
}

// TypingOut is relayed to the addressed subject.
type TypingOut struct {
	From   string `json:"from"`
	ChatID string `json:"chatId"`
}

// SendIn is the client message:send event.
type SendIn struct {
	ChatID   string `json:"chatId"`
	Receiver string `json:"receiver"`
	To       string `json:"to"`
	Text     string `json:"text"`
}

func (s SendIn) receiverID() string {
	if s.Receiver != "" {
		return s.Receiver
	}
	return s.To
}

// SendAck answers message:send. Message holds the stored message on success and
// the error text otherwise.
type SendAck struct {
	Success bool `json:"success"`
	Message any  `json:"message"`
}

// MessageHandler persists a message submitted over a real-time session.
type MessageHandler interface {
	SendMessage(ctx context.Context, chatID, senderID, receiverID, text string) (*models.MessageModel, error)
}

// Session is one authenticated connection.
type Session struct {
	ID        string
	SubjectID string
	Token     string

	mu    sync.Mutex
	state State
	kick  func()
}

func newSession(id string) *Session {
	return &Session{ID: id, state: StateConnecting}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setKick(fn func()) {
	s.mu.Lock()
	s.kick = fn
	s.mu.Unlock()
}

// disconnect closes the underlying transport, if one is attached.
func (s *Session) disconnect() {
	s.mu.Lock()
	fn := s.kick
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// advance moves forward only; Closed is terminal.
func (s *Session) advance(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next <= s.state {
		return false
	}
	s.state = next
	return true
}

// roomEmitter delivers to locally connected sessions.
type roomEmitter interface {
	EmitToRoom(room, event string, payload any)
	EmitAll(event string, payload any)
}

// Options tune a Hub.
type Options struct {
	Namespace        string
	HandshakeTimeout time.Duration
	// Fanout publishes room emissions on Redis for other processes.
	Fanout bool
}

// Hub owns the socket.io server, the presence broadcast loop and cross-process fan-out.
type Hub struct {
	nodeID    string
	namespace string
	timeout   time.Duration
	fanout    bool

	sessions *session.Manager
	tracker  *presence.Tracker
	rc       *pkgredis.Client
	logger   *zap.Logger

	sio *socketio.Server
	out roomEmitter

	handlerMu sync.RWMutex
	handler   MessageHandler

	// live indexes joined sessions by id.
	live sync.Map

	outbound chan Message
	presence chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}
