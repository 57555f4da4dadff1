package usecase

import (
	"context"
	"errors"
	"io"
	"time"

	"liveinterview/internal/ports"
)

// pumpTextStream hands each chunk to onChunk in arrival order until the
// stream completes. It returns nil on a clean end of stream.
func pumpTextStream(ctx context.Context, stream ports.TextStream, onChunk func(chunk string)) error {
	for {
		chunk, err := stream.Next(ctx)
		if chunk != "" {
			onChunk(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func readAllWithTimeout(ctx context.Context, stream ports.TextStream, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return stream.ReadAll(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return stream.ReadAll(ctx)
}
