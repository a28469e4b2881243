// Package bus fans session events out to every open surface of the running process.
package bus

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindPopup       Kind = "popup"
	KindAuthPage    Kind = "auth-page"
	KindHistoryPage Kind = "history-page"
	KindOther       Kind = "other"
)

const DefaultBufferSize = 16

var (
	ErrHubClosed     = errors.New("broadcast hub closed")
	ErrDuplicateConn = errors.New("connection name already in use")
)

// ChannelName builds a unique connection name for kind.
func ChannelName(kind Kind) string {
	return string(kind) + "-" + uuid.NewString()
}

// KindOf classifies a connection name by its prefix.
func KindOf(name string) Kind {
	for _, k := range []Kind{KindPopup, KindAuthPage, KindHistoryPage} {
		if name == string(k) || strings.HasPrefix(name, string(k)+"-") {
			return k
		}
	}
	return KindOther
}

// Conn is one open connection. Events arrive in send order on Events; the channel is
// closed when the connection is removed from the hub.
type Conn struct {
	ID       string
	Kind     Kind
	OpenedAt time.Time

	events    chan Event
	closeOnce sync.Once
}

func (c *Conn) Events() <-chan Event {
	return c.events
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.events) })
}

// ConnInfo is a read-only view of a registered connection.
type ConnInfo struct {
	ID       string
	Kind     Kind
	OpenedAt time.Time
}

type sendOptions struct {
	exclude map[string]bool
	include map[string]bool
}

type SendOption func(*sendOptions)

// Exclude skips the named connections.
func Exclude(ids ...string) SendOption {
	return func(o *sendOptions) {
		for _, id := range ids {
			o.exclude[id] = true
		}
	}
}

// Include restricts delivery to the named connections.
func Include(ids ...string) SendOption {
	return func(o *sendOptions) {
		if o.include == nil {
			o.include = map[string]bool{}
		}
		for _, id := range ids {
			o.include[id] = true
		}
	}
}

type NowTimeFunc func() time.Time

type HubOption func(*Hub)

func WithNowTime(now NowTimeFunc) HubOption {
	return func(h *Hub) {
		h.now = now
	}
}

func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

func WithLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// Hub owns the connection set. All mutations happen on the goroutine running Run.
type Hub struct {
	ops        chan func(map[string]*Conn)
	stopped    chan struct{}
	bufferSize int
	now        NowTimeFunc
	logger     zerolog.Logger
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		ops:        make(chan func(map[string]*Conn)),
		stopped:    make(chan struct{}),
		bufferSize: DefaultBufferSize,
		now:        time.Now,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run serves hub operations until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	conns := map[string]*Conn{}
	defer func() {
		close(h.stopped)
		for _, c := range conns {
			c.close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-h.ops:
			op(conns)
		}
	}
}

func (h *Hub) do(ctx context.Context, op func(map[string]*Conn)) error {
	done := make(chan struct{})
	wrapped := func(conns map[string]*Conn) {
		op(conns)
		close(done)
	}
	select {
	case h.ops <- wrapped:
	case <-h.stopped:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Connect registers a connection called name. Names must be unique among open connections.
func (h *Hub) Connect(name string) (*Conn, error) {
	if name == "" {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "empty connection name")
	}
	var (
		conn   *Conn
		dupErr error
	)
	err := h.do(context.Background(), func(conns map[string]*Conn) {
		if _, exists := conns[name]; exists {
			dupErr = errors.Wrapf(ErrDuplicateConn, "%s", name)
			return
		}
		conn = &Conn{
			ID:       name,
			Kind:     KindOf(name),
			OpenedAt: h.now(),
			events:   make(chan Event, h.bufferSize),
		}
		conns[name] = conn
	})
	if err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, dupErr
	}
	h.logger.Debug().Str("conn", conn.ID).Str("kind", string(conn.Kind)).Msg("bus connection opened")
	return conn, nil
}

// Disconnect removes conn and closes its channel. Unknown connections are ignored.
func (h *Hub) Disconnect(conn *Conn) {
	if conn == nil {
		return
	}
	err := h.do(context.Background(), func(conns map[string]*Conn) {
		if registered, ok := conns[conn.ID]; ok && registered == conn {
			delete(conns, conn.ID)
		}
	})
	if err == nil {
		h.logger.Debug().Str("conn", conn.ID).Msg("bus connection closed")
	}
	conn.close()
}

// Send delivers event to every selected connection except from and returns how many
// received it. A connection that cannot accept the event is removed without retry.
func (h *Hub) Send(ctx context.Context, from *Conn, event Event, opts ...SendOption) (int, error) {
	o := sendOptions{exclude: map[string]bool{}}
	for _, opt := range opts {
		opt(&o)
	}
	if from != nil {
		o.exclude[from.ID] = true
	}

	delivered := 0
	err := h.do(ctx, func(conns map[string]*Conn) {
		for id, c := range conns {
			if o.exclude[id] || (o.include != nil && !o.include[id]) {
				continue
			}
			select {
			case c.events <- event:
				delivered++
			default:
				delete(conns, id)
				c.close()
				h.logger.Warn().Str("conn", id).Str("event", Name(event)).Msg("bus connection not receiving, removed")
			}
		}
	})
	if err != nil {
		return 0, err
	}

	sender := ""
	if from != nil {
		sender = from.ID
	}
	h.logger.Debug().Str("from", sender).Str("event", Name(event)).Int("delivered", delivered).Msg("bus event sent")
	return delivered, nil
}

func (h *Hub) Connections() []ConnInfo {
	var out []ConnInfo
	_ = h.do(context.Background(), func(conns map[string]*Conn) {
		out = make([]ConnInfo, 0, len(conns))
		for _, c := range conns {
			out = append(out, ConnInfo{ID: c.ID, Kind: c.Kind, OpenedAt: c.OpenedAt})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
