package workerproc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/labframe/labframe/internal/experiment"
)

// Serve runs the worker side of the protocol: it reads Requests from in
// and writes one Response per Request to out, until in is closed (spec
// §4.5.2 — workers execute independently and must not share mutable
// process state, so Serve holds no state across requests beyond the
// registry).
func Serve(in io.Reader, out io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	reader := bufio.NewReader(in)

	for {
		var req Request

		if err := readFrame(reader, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("workerproc: serve: %w", err)
		}

		resp := handle(req, logger)

		if err := writeFrame(out, resp); err != nil {
			return fmt.Errorf("workerproc: serve: %w", err)
		}
	}
}

func handle(req Request, logger *slog.Logger) Response {
	ctor, ok := lookup(req.ExperimentName)
	if !ok {
		return Response{Seq: req.Seq, Error: fmt.Sprintf("workerproc: experiment %q not registered", req.ExperimentName)}
	}

	body := ctor()
	e := experiment.New(body).WithLogger(logger)

	if err := e.Set(req.Parameters); err != nil {
		return Response{Seq: req.Seq, Error: fmt.Sprintf("workerproc: set parameters: %v", err)}
	}

	return Response{Seq: req.Seq, Records: e.Run()}
}
