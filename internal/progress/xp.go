package progress

const (
	habitTier1Threshold = 7
	habitTier2Threshold = 21
	habitTier3Threshold = 60
)

// Weights controls how completions turn into XP.
type Weights struct {
	ByDifficulty map[string]int
	// Default applies to difficulties missing from ByDifficulty.
	Default int
	// StreakBonus is awarded once per StreakLength consecutive days in a run.
	StreakBonus  int
	StreakLength int
}

func DefaultWeights() Weights {
	return Weights{
		ByDifficulty: map[string]int{"easy": 10, "medium": 15, "hard": 25},
		Default:      10,
		StreakBonus:  20,
		StreakLength: 7,
	}
}

func (w Weights) PerCompletion(difficulty string) int {
	if v, ok := w.ByDifficulty[difficulty]; ok {
		return v
	}
	return w.Default
}

type XPBreakdown struct {
	Completions int `json:"completions"`
	Streaks     int `json:"streaks"`
	Challenges  int `json:"challenges"`
}

func (b XPBreakdown) Total() int { return b.Completions + b.Streaks + b.Challenges }

func (b XPBreakdown) Add(o XPBreakdown) XPBreakdown {
	return XPBreakdown{
		Completions: b.Completions + o.Completions,
		Streaks:     b.Streaks + o.Streaks,
		Challenges:  b.Challenges + o.Challenges,
	}
}

// HabitXP scores one habit's history: a weighted amount per completed day plus
// a bonus for every full StreakLength block inside each run.
func HabitXP(difficulty string, set DaySet, today Day, w Weights) XPBreakdown {
	var out XPBreakdown
	runs := Runs(set, today)
	for _, r := range runs {
		out.Completions += r.Length * w.PerCompletion(difficulty)
		if w.StreakLength > 0 {
			out.Streaks += (r.Length / w.StreakLength) * w.StreakBonus
		}
	}
	return out
}

// HabitTier grades how established a habit is from its all-time completion
// count: 0 new, 1 forming, 2 steady, 3 rooted.
func HabitTier(count int) int {
	switch {
	case count >= habitTier3Threshold:
		return 3
	case count >= habitTier2Threshold:
		return 2
	case count >= habitTier1Threshold:
		return 1
	default:
		return 0
	}
}

// Levels holds ascending XP thresholds. Levels[0] is the XP needed to reach
// level 2; a user with less is level 1.
type Levels []int

func DefaultLevels() Levels {
	return Levels{100, 250, 500, 900, 1400, 2000, 2700, 3500, 4400}
}

type Level struct {
	Level  int  `json:"level"`
	XP     int  `json:"xp"`
	Floor  int  `json:"floor"`
	Next   int  `json:"next,omitempty"`
	ToNext int  `json:"toNext"`
	Max    bool `json:"max"`
}

func (l Levels) Of(xp int) Level {
	out := Level{Level: 1, XP: xp}
	for _, threshold := range l {
		if xp < threshold {
			out.Next = threshold
			out.ToNext = threshold - xp
			return out
		}
		out.Level++
		out.Floor = threshold
	}
	out.Max = true
	return out
}

// Valid reports whether thresholds are strictly ascending and positive.
func (l Levels) Valid() bool {
	prev := 0
	for _, t := range l {
		if t <= prev {
			return false
		}
		prev = t
	}
	return true
}
