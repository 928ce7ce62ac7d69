package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	closed    bool
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		f.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte("ok")},
			{Offset: 2, Value: []byte("bad")},
			{Offset: 3, Value: []byte("ok")},
		},
		cancel: cancel,
	}
	var seen []string
	c := NewConsumerWithReader(r, "post-ingested", func(_ context.Context, _, value []byte) error {
		seen = append(seen, string(value))
		if string(value) == "bad" {
			return errors.New("rejected")
		}
		return nil
	})

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(seen) != 3 {
		t.Errorf("handled %d messages, want 3", len(seen))
	}
	if len(r.committed) != 2 || r.committed[0] != 1 || r.committed[1] != 3 {
		t.Errorf("committed = %v, want [1 3]", r.committed)
	}
	if !r.closed {
		t.Error("reader not closed")
	}
}

type failingReader struct{ fakeReader }

func (f *failingReader) FetchMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("broker gone")
}

func TestConsumerReturnsFetchError(t *testing.T) {
	r := &failingReader{}
	c := NewConsumerWithReader(r, "t", func(context.Context, []byte, []byte) error { return nil })
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if !r.closed {
		t.Error("reader not closed")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		ID string `json:"id"`
	}
	got, err := DecodeJSON[payload]([]byte(`{"id":"42"}`))
	if err != nil || got.ID != "42" {
		t.Errorf("DecodeJSON() = %+v, %v", got, err)
	}
	if _, err := DecodeJSON[payload]([]byte(`{`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
