package session

import "time"

// Policy bounds transcript growth. Trim is applied after every append;
// Expired is consulted by Sweep.
type Policy interface {
	Trim(turns []Turn) []Turn
	Expired(lastActive, now time.Time) bool
}

type maxTurns int

// MaxTurns keeps only the n most recent turns. n <= 0 keeps everything.
func MaxTurns(n int) Policy { return maxTurns(n) }

func (m maxTurns) Trim(turns []Turn) []Turn {
	if m <= 0 || len(turns) <= int(m) {
		return turns
	}
	return turns[len(turns)-int(m):]
}

func (maxTurns) Expired(time.Time, time.Time) bool { return false }

type idleTTL time.Duration

// IdleTTL expires sessions that have not been appended to for d. d <= 0
// never expires.
func IdleTTL(d time.Duration) Policy { return idleTTL(d) }

func (idleTTL) Trim(turns []Turn) []Turn { return turns }

func (t idleTTL) Expired(lastActive, now time.Time) bool {
	return t > 0 && now.Sub(lastActive) >= time.Duration(t)
}

type policies []Policy

// Policies combines ps: trims run in order and a session is expired when
// any policy says so.
func Policies(ps ...Policy) Policy { return policies(ps) }

func (ps policies) Trim(turns []Turn) []Turn {
	for _, p := range ps {
		turns = p.Trim(turns)
	}
	return turns
}

func (ps policies) Expired(lastActive, now time.Time) bool {
	for _, p := range ps {
		if p.Expired(lastActive, now) {
			return true
		}
	}
	return false
}

// DefaultPolicy keeps the last 20 turns and drops sessions idle for a day.
func DefaultPolicy() Policy {
	return Policies(MaxTurns(20), IdleTTL(24*time.Hour))
}
