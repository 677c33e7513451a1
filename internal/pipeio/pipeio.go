// Package pipeio implements the pipe I/O helper (component D): a
// bounded asynchronous FIFO reader, a writer that swallows
// broken-pipe termination, and a line-ending normaliser.
package pipeio

import (
	"errors"
	"io"
	"os"
	"syscall"
)

// MakeFIFO creates a named pipe at path if one does not already exist.
func MakeFIFO(path string, mode os.FileMode) error {
	err := syscall.Mkfifo(path, uint32(mode))
	if err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	return nil
}

// ReadBounded opens the FIFO at path non-blocking and reads until EOF or
// cap bytes have been consumed, whichever comes first. If the cap is hit
// before EOF, the FIFO is closed immediately without draining the rest
// of the stream: subsequent writes by the producer fail with a broken
// pipe, which WriteFrom swallows.
func ReadBounded(path string, cap int) ([]byte, error) {
	f, err := openNonblock(path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// read(2) on a FIFO that has never had a writer reports EOF at once,
	// so first wait on the poller, which stays silent until a writer
	// writes or hangs up.
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	waited := false
	if err := rc.Read(func(uintptr) bool {
		done := waited
		waited = true
		return done
	}); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, cap)
	chunk := make([]byte, 32*1024)
	for len(buf) < cap {
		n, rerr := f.Read(chunk)
		if n > 0 {
			take := n
			if len(buf)+take > cap {
				take = cap - len(buf)
			}
			buf = append(buf, chunk[:take]...)
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return buf, rerr
		}
	}
	return buf, nil
}

// WriteFrom streams producer into the FIFO at path. A broken pipe — the
// reader having closed early, e.g. after ReadBounded hit its cap, or the
// judged program never reading stdin at all — is swallowed: producers
// exist purely to feed the judged program and must tolerate it closing
// stdin early.
func WriteFrom(path string, producer io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, producer)
	if isBrokenPipe(err) {
		return nil
	}
	return err
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}

// openNonblock opens path with O_NONBLOCK and wraps the resulting fd in
// an *os.File whose blocking Read/Write calls are serviced by the Go
// runtime poller rather than busy-looping on EAGAIN.
func openNonblock(path string, flag int) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}

// dos2unix strips every '\r' byte from the wrapped reader's stream
// before it reaches the FIFO: the judge operates on LF-terminated text.
type dos2unix struct {
	r io.Reader
}

// DOS2Unix wraps r, stripping carriage returns as bytes flow through.
func DOS2Unix(r io.Reader) io.Reader {
	return &dos2unix{r: r}
}

func (d *dos2unix) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		out := p[:0]
		for _, b := range p[:n] {
			if b != '\r' {
				out = append(out, b)
			}
		}
		n = len(out)
	}
	return n, err
}
