package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/processd/processd/toolsurface"
)

// stdioRequest is one line of the stdio tool-call protocol (§4.9: "a
// line-delimited JSON loop for clients that never open a socket").
type stdioRequest struct {
	ID        string         `json:"id"`
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args"`
}

// stdioResponse echoes the request id alongside the Tool Surface envelope.
type stdioResponse struct {
	ID string `json:"id"`
	toolsurface.Response
}

// RunStdio reads one stdioRequest per line from r, dispatches it through the
// Tool Surface, and writes one stdioResponse per line to w, until r is
// exhausted or ctx is cancelled.
func RunStdio(ctx context.Context, surface *toolsurface.Surface, r io.Reader, w io.Writer, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(w)

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

		var req stdioRequest
		if err := json.Unmarshal(line, &req); err != nil {
			if logger != nil {
				logger.Warn("stdio: malformed request line", "error", err)
			}
			continue
		}

		resp := surface.Dispatch(ctx, req.Operation, req.Args)
		if err := enc.Encode(stdioResponse{ID: req.ID, Response: resp}); err != nil {
			return err
		}
	}
	return scanner.Err()
}
