package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
)

func (c *Client) readLoop(s *session) {
	c.logEntry().Debug("readLoop запущен.")

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				c.logEntry().WithError(err).Warn("Ошибка чтения WS.")
			}
			s.close(err)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logEntry().WithError(err).Warn("Не удалось разобрать WS сообщение.")
			continue
		}

		switch {
		case msg.ID != nil:
			s.resolve(*msg.ID, msg)
		case msg.Method == "eth_subscription" && msg.Params != nil:
			c.dispatch(s, msg.Params)
		}
	}
}

// pingLoop keeps the read deadline honest: a peer that stops answering pings
// makes ReadMessage fail after pongWait and the session closes.
func (c *Client) pingLoop(s *session) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logEntry().WithError(err).Warn("Не удалось отправить ping.")
				s.close(err)
				return
			}
		}
	}
}

func (c *Client) dispatch(s *session, n *Notification) {
	s.mu.Lock()
	sub := s.subs[n.Subscription]
	s.mu.Unlock()
	if sub == nil {
		return
	}

	var lg types.Log
	if err := json.Unmarshal(n.Result, &lg); err != nil {
		c.logEntry().WithError(err).Warn("Не удалось разобрать лог подписки.")
		return
	}
	select {
	case sub.ch <- lg:
	case <-sub.quit:
	case <-s.done:
	}
}

func (c *Client) call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	s := c.current()
	if s == nil {
		return errNotConnected
	}
	return c.callOn(ctx, s, result, method, params...)
}

func (c *Client) callOn(ctx context.Context, s *session, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	id := c.nextID.Add(1)
	ch := make(chan Message, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-s.done:
		return fmt.Errorf("%s: %w", method, s.err)
	case msg := <-ch:
		if msg.Error != nil {
			return fmt.Errorf("%s: %w", method, msg.Error)
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return fmt.Errorf("%s: не удалось разобрать ответ: %w", method, err)
		}
		return nil
	}
}

func (s *session) write(req Request) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return s.err
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(req)
}

func (s *session) resolve(id uint64, msg Message) {
	s.mu.Lock()
	ch := s.pending[id]
	s.mu.Unlock()
	if ch != nil {
		ch <- msg
	}
}

// close ends the session once. Every live subscription receives err.
func (s *session) close(err error) {
	s.once.Do(func() {
		if err == nil {
			err = errClosed
		}
		s.err = err
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()

		s.mu.Lock()
		subs := make([]*subscription, 0, len(s.subs))
		for _, sub := range s.subs {
			subs = append(subs, sub)
		}
		s.mu.Unlock()
		for _, sub := range subs {
			sub.fail(err)
		}
	})
}

func isClosed(err error) bool {
	return errors.Is(err, errClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
