package engine

import "context"

// Probe spawns one throwaway session and asks for a shallow move from the
// start position. Used by the preflight checker.
func Probe(ctx context.Context, binaryPath string) (string, error) {
	s, err := newSession(ctx, binaryPath, Options{Threads: 1, HashMB: 16, SkillLevel: 0})
	if err != nil {
		return "", err
	}
	defer s.close()

	res, err := s.search(ctx, "", nil, Limits{Depth: 1, MoveTimeMillis: 200})
	if err != nil {
		return "", err
	}
	return res.BestMove, nil
}
