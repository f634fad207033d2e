package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Client side
// ---------------------------------------------------------------------------

// WSTransport talks to a remote engine over a websocket. One read pump and
// one write pump run under an errgroup; when either fails both stop and the
// reply channel is closed.
type WSTransport struct {
	conn    *websocket.Conn
	log     *slog.Logger
	send    chan Envelope
	replies chan Reply
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	errMu sync.Mutex
	err   error
}

var _ Transport = (*WSTransport)(nil)

// DialWS connects to an engine host such as the one served by GinHandler.
func DialWS(ctx context.Context, url string, log *slog.Logger) (*WSTransport, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("compute: dial %s: %w", url, err)
	}

	gctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(gctx)
	t := &WSTransport{
		conn:    conn,
		log:     log.With("component", "compute-ws", "url", url),
		send:    make(chan Envelope),
		replies: make(chan Reply, 64),
		ctx:     gctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	g.Go(func() error { return t.readPump(gctx) })
	g.Go(func() error { return t.writePump(gctx) })
	go func() {
		err := g.Wait()
		if err != nil && !isNormalClose(err) {
			t.log.Warn("engine connection ended", "error", err)
			t.errMu.Lock()
			t.err = err
			t.errMu.Unlock()
		}
		close(t.replies)
		close(t.done)
	}()
	return t, nil
}

func (t *WSTransport) Send(ctx context.Context, env Envelope) error {
	select {
	case t.send <- env:
		return nil
	case <-t.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WSTransport) Replies() <-chan Reply { return t.replies }

// Err returns the error that ended the connection, if any.
func (t *WSTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *WSTransport) Close() error {
	t.cancel()
	<-t.done
	return nil
}

func (t *WSTransport) readPump(ctx context.Context) error {
	for {
		var r Reply
		if err := t.conn.ReadJSON(&r); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case t.replies <- r:
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *WSTransport) writePump(ctx context.Context) error {
	defer t.conn.Close()
	for {
		select {
		case env := <-t.send:
			if err := t.conn.WriteJSON(env); err != nil {
				return fmt.Errorf("write %s: %w", env.Kind, err)
			}
		case <-ctx.Done():
			_ = t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, context.Canceled)
}

// ---------------------------------------------------------------------------
// Engine host side
// ---------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeConn serves one websocket connection with h until the peer
// disconnects or ctx is done.
func ServeConn(ctx context.Context, conn *websocket.Conn, h Handler, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	out := newQueue[Reply]()
	srv := NewServer(h, func(r Reply) { out.push(r) }, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		defer srv.Close()
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return err
			}
			srv.Submit(env)
		}
	})
	g.Go(func() error {
		defer conn.Close()
		for {
			r, ok := out.pop(gctx)
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(r); err != nil {
				return fmt.Errorf("write reply %d: %w", r.ID, err)
			}
		}
	})

	err := g.Wait()
	out.close()
	if err != nil && !isNormalClose(err) {
		return err
	}
	return nil
}

// GinHandler upgrades requests to websockets and serves each connection
// with a fresh handler from newHandler, so engine state is per connection.
func GinHandler(newHandler func() Handler, log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error("failed to upgrade engine websocket", "error", err)
			return
		}
		log.Info("engine client connected", "remote", c.Request.RemoteAddr)
		if err := ServeConn(c.Request.Context(), conn, newHandler(), log); err != nil {
			log.Info("engine client disconnected", "error", err)
			return
		}
		log.Info("engine client disconnected")
	}
}
