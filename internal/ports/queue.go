package ports

import "github.com/JupitersGhost/ChaosMagnet/internal/domain"

// SampleQueue stages health-checked samples between acceptance and the next
// conditioning cycle. Bounded and FIFO.
type SampleQueue interface {
	Enqueue(s *domain.RawSample) bool
	DequeueBatch(max int) []*domain.RawSample
	Len() int
}
