package queue

import (
	"testing"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
)

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue(4)

	s1 := &domain.RawSample{SourceID: "osrng", Seq: 1}
	s2 := &domain.RawSample{SourceID: "jitter", Seq: 2}

	if !q.Enqueue(s1) || !q.Enqueue(s2) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].SourceID != "osrng" {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].Seq != 2 {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)

	sample := &domain.RawSample{SourceID: "cap"}

	if !q.Enqueue(sample) || !q.Enqueue(sample) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(sample) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(sample) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
}
