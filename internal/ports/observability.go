package ports

// Observability emits metrics and structured log events about harvesting,
// conditioning, minting, and distribution. RecordEvent feeds the bounded
// event ring consumed by the GUI log panel.
type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	SetGauge(name string, v float64)
	ObserveLatency(name string, seconds float64)

	RecordEvent(msg string)
	Events(max int) []string
}

type Field struct {
	Key   string
	Value any
}
