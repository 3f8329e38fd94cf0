package mastery

import (
	"math/rand"
	"testing"
)

func TestStreak(t *testing.T) {
	t.Run("three correct answers learn the item", func(t *testing.T) {
		s := Streak{}
		var tr Transition
		for i := 1; i <= 3; i++ {
			s, tr = s.OnCorrect()
			if s.Correct != i {
				t.Fatalf("Expected %d correct answers, got %d", i, s.Correct)
			}
			if i < 3 && tr != Unchanged {
				t.Errorf("Expected no transition after %d answers, got %s", i, tr)
			}
		}
		if tr != BecameLearned {
			t.Errorf("Expected transition to learned on the third answer, got %s", tr)
		}
		if !s.IsLearned() {
			t.Error("Expected the streak to be learned")
		}
	})

	t.Run("correct answer at the cap stays at the cap", func(t *testing.T) {
		s, tr := Streak{Correct: 3}.OnCorrect()
		if s.Correct != 3 || tr != Unchanged {
			t.Errorf("Expected 3/unchanged, got %d/%s", s.Correct, tr)
		}
	})

	t.Run("wrong answer decrements rather than resets", func(t *testing.T) {
		s, tr := Streak{Correct: 3}.OnWrong()
		if s.Correct != 2 {
			t.Errorf("Expected 2 correct answers after a wrong one, got %d", s.Correct)
		}
		if tr != BecameUnlearned {
			t.Errorf("Expected transition to unlearned, got %s", tr)
		}
	})

	t.Run("wrong answer at zero stays at zero", func(t *testing.T) {
		s, tr := Streak{}.OnWrong()
		if s.Correct != 0 || tr != Unchanged {
			t.Errorf("Expected 0/unchanged, got %d/%s", s.Correct, tr)
		}
	})
}

func TestStep(t *testing.T) {
	testCases := []struct {
		name     string
		current  int
		correct  bool
		expected int
		tr       Transition
	}{
		{"first correct", 0, true, 1, Unchanged},
		{"reaching threshold", 2, true, 3, BecameLearned},
		{"dropping below threshold", 3, false, 2, BecameUnlearned},
		{"out of range high is clamped", 7, true, 3, Unchanged},
		{"out of range low is clamped", -4, false, 0, Unchanged},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, tr := Step(tc.current, tc.correct)
			if next != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, next)
			}
			if tr != tc.tr {
				t.Errorf("Expected transition %s, got %s", tc.tr, tr)
			}
		})
	}
}

func TestStreakStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := Streak{}
	for i := 0; i < 1000; i++ {
		if rng.Intn(2) == 0 {
			s, _ = s.OnCorrect()
		} else {
			s, _ = s.OnWrong()
		}
		if s.Correct < 0 || s.Correct > StreakThreshold {
			t.Fatalf("Streak left [0,%d]: %d", StreakThreshold, s.Correct)
		}
		if s.IsLearned() != (s.Correct == StreakThreshold) {
			t.Fatalf("IsLearned disagrees with count %d", s.Correct)
		}
	}
}
