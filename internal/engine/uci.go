// internal/engine/uci.go
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	handshakeTimeout = 4 * time.Second
	stopGrace        = 500 * time.Millisecond
)

var errEngineClosed = errors.New("engine output stream closed")

// session owns the pipes of one engine process. A single goroutine reads
// stdout for the session's whole life and hands lines over a channel, so an
// abandoned search can never leave a second reader racing on the stream. One
// search runs at a time; the mutex serializes callers.
type session struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string // closed when the stdout pipe breaks

	mu    sync.Mutex
	stale int // bestmoves still owed by timed-out searches
}

func newSession(binaryPath string) (*session, error) {
	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := startSession(stdin, stdoutPipe)
	s.cmd = cmd
	if err := s.handshake(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// startSession spawns the reader goroutine over the engine's output stream.
func startSession(stdin io.WriteCloser, stdout io.Reader) *session {
	s := &session{
		stdin: stdin,
		lines: make(chan string, 64),
	}
	go func() {
		r := bufio.NewReader(stdout)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(s.lines)
				return
			}
			s.lines <- line
		}
	}()
	return s
}

func (s *session) handshake() error {
	if err := s.send("uci\n"); err != nil {
		return err
	}
	if err := s.waitFor("uciok", handshakeTimeout); err != nil {
		return err
	}
	if err := s.send("isready\n"); err != nil {
		return err
	}
	return s.waitFor("readyok", handshakeTimeout)
}

// search sets the position and runs a depth/movetime bounded go. The caller's
// ctx bounds the whole exchange; on expiry we send "stop" and give the engine
// a short window to flush its bestmove. A bestmove that never arrives in time
// is recorded as owed and drained before the next go is issued, so a late
// answer is never attributed to a different position.
func (s *session) search(ctx context.Context, movesUCI []string, p Preset) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.stale > 0 {
		if _, err := s.nextBestMove(ctx); err != nil {
			return "", err
		}
		s.stale--
	}

	if err := s.send(fmt.Sprintf("setoption name Skill Level value %d\n", p.SkillLevel)); err != nil {
		return "", err
	}

	pos := "position startpos"
	if len(movesUCI) > 0 {
		pos += " moves " + strings.Join(movesUCI, " ")
	}
	if err := s.send(pos + "\n"); err != nil {
		return "", err
	}
	goCmd := fmt.Sprintf("go depth %d movetime %d\n", p.Depth, p.MoveTime.Milliseconds())
	if err := s.send(goCmd); err != nil {
		return "", err
	}

	move, err := s.nextBestMove(ctx)
	if err == nil {
		return move, nil
	}
	if ctx.Err() == nil {
		return "", err
	}

	_ = s.send("stop\n")
	graceCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	move, gerr := s.nextBestMove(graceCtx)
	if gerr == nil {
		return move, nil
	}
	if !errors.Is(gerr, context.DeadlineExceeded) {
		return "", gerr
	}
	s.stale++
	return "", ctx.Err()
}

// nextBestMove consumes engine output until a bestmove line arrives.
func (s *session) nextBestMove(ctx context.Context) (string, error) {
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return "", errEngineClosed
			}
			fields := strings.Fields(line)
			if len(fields) >= 2 && fields[0] == "bestmove" {
				return fields[1], nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (s *session) send(cmd string) error {
	if _, err := io.WriteString(s.stdin, cmd); err != nil {
		return fmt.Errorf("write to engine: %w", err)
	}
	return nil
}

func (s *session) waitFor(token string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return errEngineClosed
			}
			if strings.HasPrefix(strings.TrimSpace(line), token) {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("engine did not answer %q within %s", token, timeout)
		}
	}
}

func (s *session) close() error {
	s.stdin.Close()
	if s.cmd == nil {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
