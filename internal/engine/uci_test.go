// internal/engine/uci_test.go
package engine

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine scripts the far side of the UCI pipes. It answers the handshake,
// leaves the first go unanswered (stop included) and answers every later go
// promptly.
type fakeEngine struct {
	in  *io.PipeReader
	out *io.PipeWriter

	mu  sync.Mutex
	gos int
}

func newFakeEngine(t *testing.T) (*fakeEngine, *session) {
	t.Helper()
	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()
	f := &fakeEngine{in: cmdR, out: outW}
	go f.serve()
	s := startSession(cmdW, outR)
	t.Cleanup(func() {
		cmdW.Close()
		outW.Close()
	})
	return f, s
}

func (f *fakeEngine) serve() {
	sc := bufio.NewScanner(f.in)
	for sc.Scan() {
		switch line := sc.Text(); {
		case line == "uci":
			io.WriteString(f.out, "id name fakefish\nuciok\n")
		case line == "isready":
			io.WriteString(f.out, "readyok\n")
		case strings.HasPrefix(line, "go"):
			f.mu.Lock()
			f.gos++
			n := f.gos
			f.mu.Unlock()
			if n > 1 {
				io.WriteString(f.out, "info depth 1 score cp 30\nbestmove d2d4\n")
			}
		}
	}
}

// write injects a line as if the engine produced it spontaneously.
func (f *fakeEngine) write(line string) {
	io.WriteString(f.out, line)
}

func TestLateBestMoveNotAttributedToNextSearch(t *testing.T) {
	f, s := newFakeEngine(t)
	require.NoError(t, s.handshake())

	// First search times out; the engine stays silent even after stop.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_, err := s.search(ctx, nil, PresetFor(1))
	cancel()
	require.Error(t, err)

	// The aborted search's answer arrives only now, before the next request.
	f.write("bestmove a7a6\n")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	move, err := s.search(ctx2, []string{"e2e4"}, PresetFor(1))
	require.NoError(t, err)
	assert.Equal(t, "d2d4", move)
}

func TestSearchReportsClosedStream(t *testing.T) {
	f, s := newFakeEngine(t)
	require.NoError(t, s.handshake())
	f.out.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.search(ctx, nil, PresetFor(1))
	assert.ErrorIs(t, err, errEngineClosed)
}
