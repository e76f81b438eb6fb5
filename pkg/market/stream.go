package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"
)

// DefaultStreamURL is the Binance combined-stream endpoint.
const DefaultStreamURL = "wss://stream.binance.com:9443/stream"

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
	readTimeout    = 90 * time.Second
)

// Stream subscribes to miniTicker updates for a symbol set and feeds a
// PriceCache. It reconnects with capped exponential backoff until the
// context is cancelled.
type Stream struct {
	baseURL string
	symbols []string
	cache   *PriceCache
	dialer  *websocket.Dialer
}

// NewStream constructs a Stream. An empty baseURL uses the production
// endpoint.
func NewStream(baseURL string, symbols []string, cache *PriceCache) *Stream {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	return &Stream{
		baseURL: baseURL,
		symbols: append([]string(nil), symbols...),
		cache:   cache,
		dialer:  websocket.DefaultDialer,
	}
}

// URL returns the combined-stream URL for the configured symbols.
func (s *Stream) URL() string {
	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, strings.ToLower(strings.TrimSpace(sym))+"@miniTicker")
	}
	return s.baseURL + "?streams=" + strings.Join(streams, "/")
}

// Run consumes the stream until ctx is cancelled. Connection errors are
// logged and retried; Run only returns the context's error.
func (s *Stream) Run(ctx context.Context) error {
	if len(s.symbols) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	backoff := initialBackoff
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logx.WithContext(ctx).Errorf("market: stream disconnected: %v (retrying in %s)", err, backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.baseURL, err)
	}
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	logx.WithContext(ctx).Infof("market: stream connected (%d symbols)", len(s.symbols))
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handle(ctx, payload)
	}
}

type combinedFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
	} `json:"data"`
}

func (s *Stream) handle(ctx context.Context, payload []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		logx.WithContext(ctx).Errorf("market: undecodable frame: %v", err)
		return
	}
	if frame.Data.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(frame.Data.Close, 64)
	if err != nil || price <= 0 {
		logx.WithContext(ctx).Errorf("market: bad price %q for %s", frame.Data.Close, frame.Data.Symbol)
		return
	}
	s.cache.Set(frame.Data.Symbol, price)
}
