package engine

import "time"

// Level maps one difficulty step to concrete search settings.
type Level struct {
	Depth      int
	MoveTime   time.Duration
	SkillLevel int
}

const (
	MinDifficulty = 1
	MaxDifficulty = 10
)

// ladder is the fixed difficulty scale. Lower levels cap both depth and time
// hard so weak play stays weak even on fast hardware.
var ladder = map[int]Level{
	1:  {Depth: 1, MoveTime: 100 * time.Millisecond, SkillLevel: 0},
	2:  {Depth: 2, MoveTime: 500 * time.Millisecond, SkillLevel: 2},
	3:  {Depth: 3, MoveTime: 1 * time.Second, SkillLevel: 5},
	4:  {Depth: 4, MoveTime: 2 * time.Second, SkillLevel: 8},
	5:  {Depth: 5, MoveTime: 3 * time.Second, SkillLevel: 10},
	6:  {Depth: 6, MoveTime: 5 * time.Second, SkillLevel: 12},
	7:  {Depth: 8, MoveTime: 8 * time.Second, SkillLevel: 15},
	8:  {Depth: 10, MoveTime: 12 * time.Second, SkillLevel: 17},
	9:  {Depth: 12, MoveTime: 15 * time.Second, SkillLevel: 19},
	10: {Depth: 15, MoveTime: 20 * time.Second, SkillLevel: 20},
}

// LevelFor clamps difficulty into [MinDifficulty, MaxDifficulty] and returns
// its search settings.
func LevelFor(difficulty int) Level {
	if difficulty < MinDifficulty {
		difficulty = MinDifficulty
	}
	if difficulty > MaxDifficulty {
		difficulty = MaxDifficulty
	}
	return ladder[difficulty]
}

// limitsFor converts a level into UCI limits, with an optional movetime
// override for shrunken retry budgets.
func limitsFor(lv Level, budget time.Duration) Limits {
	moveTime := lv.MoveTime
	if budget > 0 && budget < moveTime {
		moveTime = budget
	}
	return Limits{
		Depth:          lv.Depth,
		MoveTimeMillis: int(moveTime / time.Millisecond),
	}
}
