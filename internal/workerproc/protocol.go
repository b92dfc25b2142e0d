// Package workerproc implements the stdin/stdout protocol and experiment
// registry the parallel lab's worker-pool subprocesses use (spec §4.5.2).
// Go has no portable way to serialise an arbitrary closure across a
// process boundary (spec §9), so a request names a registered experiment
// constructor instead of carrying one.
package workerproc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

// Request is one task sent to a worker: the registered experiment name
// and the parameters to run it at.
type Request struct {
	Seq            int        `json:"seq"`
	ExperimentName string     `json:"experiment_name"`
	Parameters     value.Dict `json:"parameters"`
}

// Response carries the record(s) a worker produced for a given Request,
// matched by Seq. Records holds more than one entry when the dispatched
// experiment is a Repeat-style combinator (spec §3 "an experiment may
// produce either one record or an ordered list of records").
type Response struct {
	Seq     int             `json:"seq"`
	Records []record.Record `json:"records"`
	Error   string          `json:"error,omitempty"`
}

// writeFrame writes one length-prefixed JSON message: a 4-byte
// big-endian length followed by that many bytes of JSON. A length prefix
// avoids relying on newline-delimited JSON, which would break if an
// experiment's error text ever contained a literal newline.
func writeFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("workerproc: encode frame: %w", err)
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))

	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("workerproc: write frame length: %w", err)
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("workerproc: write frame payload: %w", err)
	}

	return nil
}

// readFrame reads one length-prefixed JSON message into v.
func readFrame(r *bufio.Reader, v any) error {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return err //nolint:wrapcheck // io.EOF must propagate unwrapped so callers can detect a closed stream
	}

	n := binary.BigEndian.Uint32(length[:])

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("workerproc: read frame payload: %w", err)
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("workerproc: decode frame: %w", err)
	}

	return nil
}
