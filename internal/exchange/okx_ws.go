package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/svyatogor45/triarb/internal/models"
	"github.com/svyatogor45/triarb/pkg/retry"
	"github.com/svyatogor45/triarb/pkg/utils"
)

const defaultPublicWSURL = "wss://ws.okx.com:8443/ws/v5/public"

// wsBooksURL returns the client's configured WS URL, or OKX's default
// public book-channel endpoint.
func (c *OKXClient) wsBooksURL() string {
	if c.wsURL != "" {
		return c.wsURL
	}
	return defaultPublicWSURL
}

type okxWSSubscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxWSSubscribeMsg struct {
	Op   string              `json:"op"`
	Args []okxWSSubscribeArg `json:"args"`
}

type okxWSBookMsg struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string `json:"action"`
	Data   []struct {
		Asks     [][]string `json:"asks"`
		Bids     [][]string `json:"bids"`
		Ts       string     `json:"ts"`
		Checksum int32      `json:"checksum"`
		SeqID    int64      `json:"seqId"`
	} `json:"data"`
}

// SubscribeBooks opens a WebSocket connection to OKX's public book
// channel (books, 400-level incremental depth) for every pair, and
// reconnects with backoff on any drop until ctx is cancelled.
func (c *OKXClient) SubscribeBooks(ctx context.Context, pairs []models.Pair) (<-chan BookUpdate, error) {
	out := make(chan BookUpdate, 256)

	bySymbol := make(map[string]models.Pair, len(pairs))
	args := make([]okxWSSubscribeArg, 0, len(pairs))
	for _, p := range pairs {
		bySymbol[p.Symbol] = p
		args = append(args, okxWSSubscribeArg{Channel: "books", InstID: p.Symbol})
	}

	go func() {
		defer close(out)
		for ctx.Err() == nil {
			err := c.runBooksSession(ctx, args, bySymbol, out)
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("book feed session ended, reconnecting", utils.Err(err))
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// runBooksSession runs one WebSocket connection lifetime: connect,
// subscribe, read until error or ctx cancellation.
func (c *OKXClient) runBooksSession(ctx context.Context, args []okxWSSubscribeArg, bySymbol map[string]models.Pair, out chan<- BookUpdate) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var conn *websocket.Conn
	err := retry.Do(dialCtx, func() error {
		dialer := websocket.DefaultDialer
		c2, _, err := dialer.DialContext(dialCtx, c.wsBooksURL(), nil)
		if err != nil {
			return retry.Temporary(err)
		}
		conn = c2
		return nil
	}, retry.NetworkConfig())
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := okxWSSubscribeMsg{Op: "subscribe", Args: args}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if string(raw) == "pong" {
			continue
		}

		var msg okxWSBookMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Arg.Channel != "books" || len(msg.Data) == 0 {
			continue
		}
		pair, ok := bySymbol[msg.Arg.InstID]
		if !ok {
			continue
		}

		for _, d := range msg.Data {
			update := BookUpdate{
				Pair:       pair,
				Bids:       parseLevels(d.Bids),
				Asks:       parseLevels(d.Asks),
				Checksum:   d.Checksum,
				SequenceID: d.SeqID,
				IsSnapshot: strings.EqualFold(msg.Action, "snapshot"),
			}
			if ms, err := strconv.ParseInt(d.Ts, 10, 64); err == nil {
				update.Timestamp = time.UnixMilli(ms)
			} else {
				update.Timestamp = time.Now()
			}

			select {
			case out <- update:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
