// Package relay forwards a child process's output stream to a caller-supplied
// sink without taking ownership of the sink's lifecycle.
package relay

import (
	"io"
	"os"
)

// Output decides how one of the child's output streams is wired.
//
// If sink is nil the stream is not intercepted: the returned file is inherit
// (typically the supervisor's own stdout or stderr) and the child writes to it
// directly with no copying overhead.
//
// If sink is non-nil an os.Pipe is created. The returned file is the write end,
// to be handed to the child; a goroutine copies every byte from the read end to
// sink until the pipe drains. The sink is never closed; the same sink is
// commonly reused across respawns of the child.
//
// The returned release func closes the parent's copy of the write end and must
// be called after the child has been started (the child holds its own copy, so
// the copier sees EOF only once the child exits).
func Output(sink io.Writer, inherit *os.File) (*os.File, func(), error) {
	if sink == nil {
		return inherit, func() {}, nil
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}

	go func() {
		_, _ = io.Copy(sink, pr)
		_ = pr.Close()
	}()

	release := func() { _ = pw.Close() }
	return pw, release, nil
}
