package panels

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRefreshKeepsLastGoodData(t *testing.T) {
	fail := false
	calls := 0
	p := New("metrics", time.Minute, func(ctx context.Context) (int, error) {
		calls++
		if fail {
			return 0, errors.New("upstream 500")
		}
		return calls * 10, nil
	}, quiet)

	v, err := p.Refresh(context.Background())
	if err != nil || v.Data == nil || *v.Data != 10 || v.Error != "" {
		t.Fatalf("unexpected first view %+v err=%v", v, err)
	}

	fail = true
	v, err = p.Refresh(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if v.Data == nil || *v.Data != 10 || v.Error != "upstream 500" {
		t.Fatalf("expected stale data next to the error, got %+v", v)
	}

	fail = false
	v, _ = p.Refresh(context.Background())
	if *v.Data != 30 || v.Error != "" {
		t.Fatalf("expected recovery to clear the error, got %+v", v)
	}
}

func TestOlderFetchDoesNotOverwriteNewer(t *testing.T) {
	release := make(chan struct{})
	var n atomic.Int32
	p := New("reconnections", time.Minute, func(ctx context.Context) (string, error) {
		if n.Add(1) == 1 {
			<-release
			return "old", nil
		}
		return "new", nil
	}, quiet)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Refresh(context.Background())
	}()
	for n.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if v, _ := p.Refresh(context.Background()); *v.Data != "new" {
		t.Fatalf("expected new, got %+v", v)
	}
	close(release)
	<-done
	if v := p.View(); *v.Data != "new" || v.Loading {
		t.Fatalf("older fetch overwrote newer: %+v", v)
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	p := New("metrics", 10*time.Millisecond, func(ctx context.Context) (int32, error) {
		return calls.Add(1), nil
	}, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated polls, got %d", calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if p.View().Data == nil {
		t.Fatalf("expected data after polling")
	}
}
