package ai

import (
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"
)

// CollectStream drains stream, passes each non-empty delta to onDelta and
// returns the concatenated text. An error from onDelta stops the read and is
// returned unchanged.
func CollectStream(op string, stream *schema.StreamReader[*schema.Message], onDelta func(string) error) (string, error) {
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", AsUpstreamError(op, err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" && onDelta != nil {
			if err := onDelta(chunk.Content); err != nil {
				return "", err
			}
		}
	}

	if len(chunks) == 0 {
		return "", MalformedResponse(op)
	}

	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", fmt.Errorf("failed to concat %s stream: %w", op, err)
	}
	return full.Content, nil
}
