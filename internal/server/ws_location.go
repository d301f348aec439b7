package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/playperu/stamprally/internal/sampler"
	"github.com/playperu/stamprally/internal/stamprally"
)

// deviceMessage is anything the device sends over the locate socket.
type deviceMessage struct {
	Type        string  `json:"type"`
	ID          int64   `json:"id,omitempty"`
	Geolocation bool    `json:"geolocation,omitempty"`
	State       string  `json:"state,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lng         float64 `json:"lng,omitempty"`
	Accuracy    float64 `json:"accuracy,omitempty"`
	Timestamp   int64   `json:"timestamp,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// hostMessage is anything the host sends over the locate socket.
type hostMessage struct {
	Type         string          `json:"type"`
	ID           int64           `json:"id,omitempty"`
	HighAccuracy bool            `json:"highAccuracy,omitempty"`
	MaximumAgeMs int64           `json:"maximumAge,omitempty"`
	TimeoutMs    int64           `json:"timeout,omitempty"`
	Result       *UnlockResponse `json:"result,omitempty"`
	Error        *ErrorResponse  `json:"error,omitempty"`
}

// wsLocation drives the device's geolocation API over a WebSocket. Every
// request carries an id; the device echoes it on each reply.
type wsLocation struct {
	ctx       context.Context
	conn      *websocket.Conn
	available bool

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan deviceMessage

	done chan struct{}
	err  error
}

func newWSLocation(ctx context.Context, conn *websocket.Conn, available bool) *wsLocation {
	l := &wsLocation{
		ctx:       ctx,
		conn:      conn,
		available: available,
		pending:   make(map[int64]chan deviceMessage),
		done:      make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *wsLocation) readLoop() {
	defer close(l.done)
	for {
		var msg deviceMessage
		if err := wsjson.Read(l.ctx, l.conn, &msg); err != nil {
			l.err = err
			return
		}

		l.mu.Lock()
		ch, ok := l.pending[msg.ID]
		l.mu.Unlock()
		if !ok {
			continue
		}
		// Late watch updates are dropped rather than stalling the loop.
		select {
		case ch <- msg:
		default:
		}
	}
}

func (l *wsLocation) request(ctx context.Context, msg hostMessage, buffer int) (int64, chan deviceMessage, error) {
	ch := make(chan deviceMessage, buffer)

	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.pending[id] = ch
	l.mu.Unlock()

	msg.ID = id
	if err := wsjson.Write(ctx, l.conn, msg); err != nil {
		l.forget(id)
		return 0, nil, fmt.Errorf("sending %s request: %w", msg.Type, err)
	}
	return id, ch, nil
}

func (l *wsLocation) forget(id int64) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

// await waits for a single reply to id.
func (l *wsLocation) await(ctx context.Context, id int64, ch chan deviceMessage) (deviceMessage, error) {
	defer l.forget(id)
	select {
	case msg := <-ch:
		if msg.Type == "error" {
			return msg, errors.New(msg.Message)
		}
		return msg, nil
	case <-l.done:
		return deviceMessage{}, fmt.Errorf("device disconnected: %w", l.err)
	case <-ctx.Done():
		return deviceMessage{}, ctx.Err()
	}
}

func (l *wsLocation) Available() bool { return l.available }

func (l *wsLocation) Permission(ctx context.Context) (sampler.PermissionState, error) {
	id, ch, err := l.request(ctx, hostMessage{Type: "permission"}, 1)
	if err != nil {
		return "", err
	}
	msg, err := l.await(ctx, id, ch)
	if err != nil {
		return "", err
	}
	return sampler.PermissionState(msg.State), nil
}

func (l *wsLocation) CurrentPosition(ctx context.Context, opts sampler.PositionOptions) (stamprally.RawReading, error) {
	id, ch, err := l.request(ctx, positionRequest("current", opts), 1)
	if err != nil {
		return stamprally.RawReading{}, err
	}
	msg, err := l.await(ctx, id, ch)
	if err != nil {
		return stamprally.RawReading{}, err
	}
	return msg.reading(), nil
}

func (l *wsLocation) WatchPosition(ctx context.Context, opts sampler.PositionOptions) (<-chan sampler.Fix, func(), error) {
	id, ch, err := l.request(ctx, positionRequest("watch", opts), 4)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan sampler.Fix, 1)
	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopped)
			l.forget(id)
			wctx, cancel := context.WithTimeout(l.ctx, time.Second)
			defer cancel()
			_ = wsjson.Write(wctx, l.conn, hostMessage{Type: "clearWatch", ID: id})
		})
	}

	go func() {
		defer close(out)
		for {
			var fix sampler.Fix
			select {
			case <-stopped:
				return
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case msg := <-ch:
				if msg.Type == "error" {
					fix.Err = errors.New(msg.Message)
				} else {
					fix.Reading = msg.reading()
				}
			}

			select {
			case out <- fix:
			case <-stopped:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, stop, nil
}

func positionRequest(typ string, opts sampler.PositionOptions) hostMessage {
	return hostMessage{
		Type:         typ,
		HighAccuracy: opts.HighAccuracy,
		MaximumAgeMs: opts.MaximumAge.Milliseconds(),
		TimeoutMs:    opts.Timeout.Milliseconds(),
	}
}

func (m deviceMessage) reading() stamprally.RawReading {
	return stamprally.RawReading{
		Lat:            m.Lat,
		Lng:            m.Lng,
		AccuracyMeters: m.Accuracy,
		TimestampMs:    m.Timestamp,
	}
}

// isSecureContext mirrors the browser rule: geolocation needs HTTPS or a
// loopback origin.
func isSecureContext(r *http.Request) bool {
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
