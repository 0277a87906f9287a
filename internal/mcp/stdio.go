package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// maxLineSize bounds one newline-delimited JSON-RPC message (16 MiB).
const maxLineSize = 16 * 1024 * 1024

// ServeStdio reads newline-delimited JSON-RPC messages from r and writes
// responses to w until EOF or context cancellation. Logs must go elsewhere
// (stderr) since stdout carries the protocol.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	s.log.Info().Msg("Serving on stdio")

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.Handle(ctx, line)
		if resp == nil {
			continue
		}

		if _, err := w.Write(append(resp, '\n')); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdin read failed: %w", err)
	}

	s.log.Info().Msg("Stdin closed, shutting down")
	return nil
}
