package mastery

// StreakThreshold is the number of correct answers after which a streak
// item counts as learned.
const StreakThreshold = 3

// Transition describes how a single answer changed the learned state of an item.
type Transition int

const (
	Unchanged Transition = iota
	BecameLearned
	BecameUnlearned
)

func (t Transition) String() string {
	switch t {
	case BecameLearned:
		return "learned"
	case BecameUnlearned:
		return "unlearned"
	}
	return "unchanged"
}

// Streak holds the correct-answer count of a sentence item.
type Streak struct {
	Correct int
}

// Clamp brings an arbitrary stored count back into [0, StreakThreshold].
func Clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > StreakThreshold {
		return StreakThreshold
	}
	return n
}

// IsLearned reports whether the streak has reached the threshold.
func (s Streak) IsLearned() bool {
	return s.Correct >= StreakThreshold
}

// OnCorrect increments the streak, capped at the threshold.
func (s Streak) OnCorrect() (Streak, Transition) {
	return s.step(true)
}

// OnWrong decrements the streak, floored at zero. A wrong answer costs one
// step rather than resetting the whole run.
func (s Streak) OnWrong() (Streak, Transition) {
	return s.step(false)
}

// Step applies one answer to a stored count and returns the new count and
// the transition it caused. Stores that perform the read-check-write
// themselves use it so every backend agrees on the arithmetic.
func Step(current int, correct bool) (int, Transition) {
	next, tr := Streak{Correct: current}.step(correct)
	return next.Correct, tr
}

func (s Streak) step(correct bool) (Streak, Transition) {
	before := Streak{Correct: Clamp(s.Correct)}
	after := before
	if correct {
		after.Correct = Clamp(before.Correct + 1)
	} else {
		after.Correct = Clamp(before.Correct - 1)
	}

	switch {
	case !before.IsLearned() && after.IsLearned():
		return after, BecameLearned
	case before.IsLearned() && !after.IsLearned():
		return after, BecameUnlearned
	}
	return after, Unchanged
}
