package main

import (
	"errors"
	"fmt"
	"testing"

	chaosmagnet "github.com/JupitersGhost/ChaosMagnet"
)

func TestMintRetryable(t *testing.T) {
	if !mintRetryable(chaosmagnet.ErrPoolBelowThreshold) {
		t.Fatalf("floor sentinel must be retried")
	}
	wrapped := fmt.Errorf("request mint: %w", chaosmagnet.ErrPoolBelowThreshold)
	if !mintRetryable(wrapped) {
		t.Fatalf("wrapped floor sentinel must be retried")
	}
	if mintRetryable(errors.New("vault: permission denied")) {
		t.Fatalf("non-floor errors must abort the retry loop")
	}
}
