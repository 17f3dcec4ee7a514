// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// Transport moves packed ghost-zone or flux messages between ranks. It
// stands in for an MPI point-to-point layer (spec §4.3's "paired send/recv");
// production deployments wire a real MPI or gRPC transport in, while tests
// and single-process runs use LocalTransport.
type Transport interface {
	// Send delivers payload to destRank, tagged so the matching Recv can
	// find it. It may buffer and return before the peer has received.
	Send(ctx context.Context, destRank int, tag uint64, payload []byte) error
	// Recv blocks until a payload tagged tag has arrived from srcRank.
	Recv(ctx context.Context, srcRank int, tag uint64) ([]byte, error)
}

// LocalTransport implements Transport with in-process channels, for runs
// where every rank lives in the same Go process (tests, single-node demos).
// It is safe for concurrent use by multiple goroutines exchanging different
// tags at once.
type LocalTransport struct {
	mu    sync.Mutex
	boxes map[localKey]chan []byte
}

type localKey struct {
	from, to int
	tag      uint64
}

// NewLocalTransport returns an empty in-process transport; any rank can use
// it through a per-rank view.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{boxes: make(map[localKey]chan []byte)}
}

func (t *LocalTransport) box(from, to int, tag uint64) chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := localKey{from, to, tag}
	ch, ok := t.boxes[k]
	if !ok {
		ch = make(chan []byte, 1)
		t.boxes[k] = ch
	}
	return ch
}

// sendFrom delivers payload from fromRank to destRank. The message is filed
// under (fromRank, destRank, tag), so the matching Recv must be called on
// destRank's own view with srcRank set to the sender.
func (t *LocalTransport) sendFrom(ctx context.Context, fromRank, destRank int, tag uint64, payload []byte) error {
	ch := t.box(fromRank, destRank, tag)
	select {
	case ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *LocalTransport) recvTo(ctx context.Context, srcRank, toRank int, tag uint64) ([]byte, error) {
	ch := t.box(srcRank, toRank, tag)
	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RankView returns a Transport bound to one rank's perspective over a shared
// LocalTransport, so the exchange engine can use the same Transport
// interface regardless of whether ranks are local goroutines or separate
// processes.
func (t *LocalTransport) RankView(rank int) Transport {
	return &localRankView{t: t, rank: rank}
}

type localRankView struct {
	t    *LocalTransport
	rank int
}

func (v *localRankView) Send(ctx context.Context, destRank int, tag uint64, payload []byte) error {
	return v.t.sendFrom(ctx, v.rank, destRank, tag, payload)
}

func (v *localRankView) Recv(ctx context.Context, srcRank int, tag uint64) ([]byte, error) {
	return v.t.recvTo(ctx, srcRank, v.rank, tag)
}

// RetryTransport wraps a Transport and retries a failing Send/Recv with
// exponential backoff before giving up, the same pattern the teacher uses
// around its cloud job-submission RPCs (sr.go's backoff.RetryNotify). A real
// MPI or gRPC-backed Transport can surface transient failures (a dropped
// connection, a momentarily-full queue); LocalTransport never does, so this
// wrapper is inert in single-process tests and only matters for a
// production transport plugged in under the same interface.
type RetryTransport struct {
	Inner Transport
	Log   *logrus.Entry
}

// NewRetryTransport wraps inner with the package default backoff policy.
func NewRetryTransport(inner Transport, log *logrus.Entry) *RetryTransport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RetryTransport{Inner: inner, Log: log}
}

func (t *RetryTransport) Send(ctx context.Context, destRank int, tag uint64, payload []byte) error {
	return backoff.RetryNotify(
		func() error { return t.Inner.Send(ctx, destRank, tag, payload) },
		backoff.NewExponentialBackOff(),
		func(err error, d time.Duration) {
			t.Log.WithFields(logrus.Fields{"dest_rank": destRank, "tag": tag}).
				Warnf("send failed, retrying in %v: %v", d, err)
		},
	)
}

func (t *RetryTransport) Recv(ctx context.Context, srcRank int, tag uint64) ([]byte, error) {
	var payload []byte
	err := backoff.RetryNotify(
		func() error {
			var err error
			payload, err = t.Inner.Recv(ctx, srcRank, tag)
			return err
		},
		backoff.NewExponentialBackOff(),
		func(err error, d time.Duration) {
			t.Log.WithFields(logrus.Fields{"src_rank": srcRank, "tag": tag}).
				Warnf("recv failed, retrying in %v: %v", d, err)
		},
	)
	return payload, err
}
