package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// maxLineLength caps a single producer line; longer input is cut into pieces
const maxLineLength = 4096

// Source produces raw sensor lines until ctx is done or the input ends
type Source interface {
	// Run sends lines without their terminator. It returns nil when the
	// input is exhausted and ctx.Err() when cancelled.
	Run(ctx context.Context, lines chan<- string) error
	Name() string
}

// readLines splits r on '\n' and sends each line. A read that returns no data
// and no error (a serial read timeout) is a chance to notice cancellation.
func readLines(ctx context.Context, r io.Reader, lines chan<- string) error {
	buf := make([]byte, 256)
	var pending bytes.Buffer

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			for {
				idx := bytes.IndexByte(pending.Bytes(), '\n')
				if idx < 0 {
					break
				}
				line := string(bytes.TrimRight(pending.Next(idx+1), "\r\n"))
				if err := send(ctx, lines, line); err != nil {
					return err
				}
			}
			if pending.Len() > maxLineLength {
				if err := send(ctx, lines, pending.String()); err != nil {
					return err
				}
				pending.Reset()
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if pending.Len() > 0 {
					return send(ctx, lines, string(bytes.TrimRight(pending.Bytes(), "\r")))
				}
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
	}
}

func send(ctx context.Context, lines chan<- string, line string) error {
	if line == "" {
		return nil
	}
	select {
	case lines <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
