package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	l := NewLimiter(map[string]int64{"svc": 1}, 3)

	release, err := l.Acquire(context.Background(), "svc")
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := l.TryAcquire("svc"); ok {
		t.Error("second acquire should fail while slot held")
	}

	release()

	release2, ok := l.TryAcquire("svc")
	if !ok {
		t.Error("acquire should succeed after release")
	}
	release2()
}

func TestReleaseIdempotent(t *testing.T) {
	l := NewLimiter(map[string]int64{"svc": 1}, 3)

	release, err := l.Acquire(context.Background(), "svc")
	if err != nil {
		t.Fatal(err)
	}
	release()
	release() // double release must not widen the semaphore

	r1, ok := l.TryAcquire("svc")
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	defer r1()
	if _, ok := l.TryAcquire("svc"); ok {
		t.Error("limit widened by double release")
	}
}

func TestAcquireCancelled(t *testing.T) {
	l := NewLimiter(map[string]int64{"svc": 1}, 3)

	release, err := l.Acquire(context.Background(), "svc")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := l.Acquire(ctx, "svc"); err == nil {
		t.Error("expected error when context expires while waiting")
	}
}

func TestResourcesAreIndependent(t *testing.T) {
	l := NewDefaultLimiter()

	releases := make([]func(), 0)
	for i := int64(0); i < l.Limit(ResourceSearch); i++ {
		r, ok := l.TryAcquire(ResourceSearch)
		if !ok {
			t.Fatalf("acquire %d should succeed", i)
		}
		releases = append(releases, r)
	}
	if _, ok := l.TryAcquire(ResourceSearch); ok {
		t.Error("search resource exceeded its limit")
	}

	// A saturated search semaphore must not affect metaculus.
	r, ok := l.TryAcquire(ResourceMetaculus)
	if !ok {
		t.Error("metaculus resource should be unaffected")
	} else {
		r()
	}

	for _, r := range releases {
		r()
	}
}

func TestDefaultLimitForUnknownResource(t *testing.T) {
	l := NewLimiter(nil, 2)
	if got := l.Limit("anything"); got != 2 {
		t.Errorf("Limit = %d, want 2", got)
	}
}
