package ports

// Policy controls the hand-off queue bounds and overflow behavior.
type Policy struct {
	MaxQueueLen  int      `yaml:"max_queue_len"`
	MaxBatchSize int      `yaml:"max_batch_size"`
	IdleSleep    Duration `yaml:"idle_sleep"`

	OnQueueFull string `yaml:"on_queue_full"` // "drop", "reject", "block"
}
