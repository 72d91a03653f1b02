package ws

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// SubscribeLogs registers an eth_subscribe logs filter on the current
// connection. Logs notified before the subscription id is known are dropped;
// callers backfill with FilterLogs.
func (c *Client) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	s := c.current()
	if s == nil {
		return nil, errNotConnected
	}

	var id string
	if err := c.callOn(ctx, s, &id, "eth_subscribe", "logs", toFilterArg(q)); err != nil {
		return nil, err
	}

	sub := &subscription{
		client:  c,
		session: s,
		id:      id,
		ch:      ch,
		errCh:   make(chan error, 1),
		quit:    make(chan struct{}),
	}
	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()

	select {
	case <-s.done:
		sub.fail(s.err)
	default:
	}

	c.logEntry().WithField("subscription", id).Info("Подписка WS оформлена.")
	return sub, nil
}

func (sub *subscription) Err() <-chan error {
	return sub.errCh
}

// Unsubscribe stops delivery and closes Err. eth_unsubscribe is sent only
// while the connection is alive.
func (sub *subscription) Unsubscribe() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.mu.Unlock()

	s := sub.session
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
	close(sub.quit)

	select {
	case <-s.done:
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := sub.client.callOn(ctx, s, nil, "eth_unsubscribe", sub.id); err != nil && !isClosed(err) {
			sub.client.logEntry().WithError(err).Debug("eth_unsubscribe не выполнен.")
		}
		cancel()
	}

	sub.mu.Lock()
	close(sub.errCh)
	sub.mu.Unlock()
}

func (sub *subscription) fail(err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed || sub.failed {
		return
	}
	sub.failed = true
	sub.errCh <- err
}

func toFilterArg(q ethereum.FilterQuery) map[string]interface{} {
	arg := map[string]interface{}{}
	if len(q.Addresses) > 0 {
		arg["address"] = q.Addresses
	}
	if len(q.Topics) > 0 {
		arg["topics"] = q.Topics
	}
	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
		return arg
	}
	if q.FromBlock != nil {
		arg["fromBlock"] = hexutil.EncodeBig(q.FromBlock)
	}
	if q.ToBlock != nil {
		arg["toBlock"] = hexutil.EncodeBig(q.ToBlock)
	}
	return arg
}
