package models

import "testing"

func TestSessionStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionStatusScheduled, SessionStatusLive, true},
		{SessionStatusScheduled, SessionStatusCancelled, true},
		{SessionStatusScheduled, SessionStatusEnded, false},
		{SessionStatusLive, SessionStatusEnded, true},
		{SessionStatusLive, SessionStatusCancelled, false},
		{SessionStatusLive, SessionStatusScheduled, false},
		{SessionStatusEnded, SessionStatusLive, false},
		{SessionStatusEnded, SessionStatusScheduled, false},
		{SessionStatusCancelled, SessionStatusLive, false},
		{SessionStatusCancelled, SessionStatusEnded, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
