package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const readyTimeout = 4 * time.Second

// Options are the per-session engine settings derived from a difficulty level.
type Options struct {
	Threads    int
	HashMB     int
	SkillLevel int
}

// Limits bound a single search.
type Limits struct {
	Depth          int
	MoveTimeMillis int
}

// SearchResult is the engine's answer for one position.
type SearchResult struct {
	BestMove  string
	EvalCP    int
	Principal []string
}

// session drives one Stockfish process over UCI on stdin/stdout.
type session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
}

func newSession(ctx context.Context, binaryPath string, opt Options) (*session, error) {
	cmd := exec.CommandContext(ctx, binaryPath)
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

	s := &session{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdoutPipe)}
	if err := s.initialize(ctx, opt); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	hash := opt.HashMB
	if hash <= 0 {
		hash = 64
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threads),
		fmt.Sprintf("setoption name Hash value %d\n", hash),
		fmt.Sprintf("setoption name Skill Level value %d\n", opt.SkillLevel),
		"setoption name Move Overhead value 100\n",
	}
	for _, cmd := range cmds {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *session) ensureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *session) newGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	return s.ensureReady(ctx)
}

// search runs one bounded search. The context deadline is the outer bound; the
// UCI limits are what actually stop the engine.
func (s *session) search(ctx context.Context, startFEN string, moves []string, limits Limits) (SearchResult, error) {
	if err := s.send(positionCommand(startFEN, moves)); err != nil {
		return SearchResult{}, fmt.Errorf("send position: %w", err)
	}
	goCmd, err := goCommand(limits)
	if err != nil {
		return SearchResult{}, err
	}
	if err := s.send(goCmd); err != nil {
		return SearchResult{}, fmt.Errorf("send go: %w", err)
	}

	var latest SearchResult
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return SearchResult{}, fmt.Errorf("read line: %w", err)
		}
		switch {
		case strings.HasPrefix(line, "info "):
			if cand, ok := parseInfoLine(line); ok {
				latest = cand
			}
		case strings.HasPrefix(line, "bestmove"):
			parts := strings.Fields(line)
			if len(parts) < 2 || parts[1] == "(none)" {
				return SearchResult{}, fmt.Errorf("engine reported no legal move")
			}
			latest.BestMove = parts[1]
			if len(latest.Principal) == 0 {
				latest.Principal = []string{parts[1]}
			}
			return latest, nil
		}
	}
}

func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.cmd != nil {
		return s.cmd.Wait()
	}
	return nil
}

func (s *session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *session) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := s.stdout.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}

func positionCommand(startFEN string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(startFEN) == "" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(startFEN)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func goCommand(l Limits) (string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if len(args) == 1 {
		return "", fmt.Errorf("no search limits specified")
	}
	return strings.Join(args, " ") + "\n", nil
}

// parseInfoLine extracts score and principal variation from a UCI info line.
func parseInfoLine(line string) (SearchResult, bool) {
	parts := strings.Fields(line)
	var (
		evalCP int
		pvIdx  = -1
	)
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "score":
			if i+2 < len(parts) {
				switch parts[i+1] {
				case "cp":
					if v, err := strconv.Atoi(parts[i+2]); err == nil {
						evalCP = v
					}
				case "mate":
					const mateValue = 30000
					if v, err := strconv.Atoi(parts[i+2]); err == nil {
						if v < 0 {
							evalCP = -mateValue
						} else {
							evalCP = mateValue
						}
					}
				}
				i += 2
			}
		case "pv":
			pvIdx = i + 1
			i = len(parts)
		}
	}
	if pvIdx == -1 || pvIdx >= len(parts) {
		return SearchResult{}, false
	}
	principal := append([]string(nil), parts[pvIdx:]...)
	return SearchResult{
		BestMove:  principal[0],
		EvalCP:    evalCP,
		Principal: principal,
	}, true
}
