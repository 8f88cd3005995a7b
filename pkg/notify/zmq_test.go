package notify

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"

	"github.com/pebbe/zmq4"
)

type fakeReceiver struct {
	mu     sync.Mutex
	msgs   [][][]byte
	cancel context.CancelFunc
	err    error
}

func (f *fakeReceiver) RecvMessageBytes(zmq4.Flag) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		if f.err != nil {
			return nil, f.err
		}
		f.cancel()
		return nil, zmq4.Errno(syscall.EAGAIN)
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

// --- Decode ---

func TestDecodeHashBlock(t *testing.T) {
	e, err := Decode([][]byte{[]byte("hashblock"), {0xde, 0xad, 0xbe, 0xef}, {7, 0, 0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if e.Topic != TopicHashBlock || e.Hash != "deadbeef" || e.Seq != 7 {
		t.Errorf("got %+v", e)
	}
}

func TestDecodeWithoutSequence(t *testing.T) {
	e, err := Decode([][]byte{[]byte("hashtx"), {0x01}})
	if err != nil {
		t.Fatal(err)
	}
	if e.Seq != 0 || e.Hash != "01" {
		t.Errorf("got %+v", e)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([][]byte{[]byte("hashblock")}); err == nil {
		t.Error("expected error for single frame")
	}
	if _, err := Decode([][]byte{{}, {0x01}}); err == nil {
		t.Error("expected error for empty topic")
	}
}

// --- Loop ---

func TestLoopDispatchesByTopic(t *testing.T) {
	s := NewSubscriber("tcp://127.0.0.1:1", nil)
	var blocks, txs []string
	s.On(TopicHashBlock, func(e Event) { blocks = append(blocks, e.Hash) })
	s.On(TopicHashTx, func(e Event) { txs = append(txs, e.Hash) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReceiver{cancel: cancel, msgs: [][][]byte{
		{[]byte("hashblock"), {0x0a}},
		{[]byte("bogus")},
		{[]byte("hashtx"), {0x0b}},
		{[]byte("rawblock"), {0x0c}},
		{[]byte("hashblock"), {0x0d}},
	}}
	if err := s.loop(ctx, r); err != nil {
		t.Fatalf("loop: %v", err)
	}
	if len(blocks) != 2 || blocks[0] != "0a" || blocks[1] != "0d" {
		t.Errorf("blocks = %v", blocks)
	}
	if len(txs) != 1 || txs[0] != "0b" {
		t.Errorf("txs = %v", txs)
	}
	if got := s.Received(TopicHashBlock); got != 2 {
		t.Errorf("Received(hashblock) = %d, want 2", got)
	}
	if got := s.Received("rawblock"); got != 1 {
		t.Errorf("Received(rawblock) = %d, want 1", got)
	}
}

func TestLoopReturnsReceiveError(t *testing.T) {
	s := NewSubscriber("tcp://127.0.0.1:1", nil)
	boom := errors.New("boom")
	r := &fakeReceiver{err: boom, cancel: func() {}}
	if err := s.loop(context.Background(), r); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestLoopStopsOnCancelledContext(t *testing.T) {
	s := NewSubscriber("tcp://127.0.0.1:1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeReceiver{msgs: [][][]byte{{[]byte("hashblock"), {0x01}}}, cancel: cancel}
	if err := s.loop(ctx, r); err != nil {
		t.Fatal(err)
	}
	if s.Received(TopicHashBlock) != 0 {
		t.Error("dispatched after cancellation")
	}
}

func TestTopics(t *testing.T) {
	s := NewSubscriber("", nil)
	s.On(TopicHashBlock, func(Event) {})
	s.On(TopicHashBlock, func(Event) {})
	if got := s.Topics(); len(got) != 1 || got[0] != TopicHashBlock {
		t.Errorf("Topics = %v", got)
	}
}
