package service

import (
	"sync/atomic"
	"time"
)

// State: живость движка для /readyz и /healthz.
// Пишут фид (соединение), bootstrap (готовность) и оркестратор (тики).
type State struct {
	startedAt time.Time
	// тик старше staleAfter считается зависшим
	staleAfter time.Duration

	ready         atomic.Bool
	feedConnected atomic.Bool
	lastTick      atomic.Int64 // unix nano
	ticks         atomic.Uint64
}

func NewState(staleAfter time.Duration) *State {
	return &State{startedAt: time.Now(), staleAfter: staleAfter}
}

func (s *State) SetReady(v bool)         { s.ready.Store(v) }
func (s *State) SetFeedConnected(v bool) { s.feedConnected.Store(v) }

func (s *State) TouchTick(t time.Time) {
	s.lastTick.Store(t.UnixNano())
	s.ticks.Add(1)
}

type Report struct {
	Ready         bool       `json:"ready"`
	FeedConnected bool       `json:"feedConnected"`
	Ticks         uint64     `json:"ticks"`
	LastTick      *time.Time `json:"lastTick,omitempty"`
	TickStale     bool       `json:"tickStale"`
	UptimeSec     int64      `json:"uptimeSec"`
}

// Serving: можно принимать трафик. До первого тика зависания нет.
func (r Report) Serving() bool {
	return r.Ready && r.FeedConnected && !r.TickStale
}

func (s *State) Report(now time.Time) Report {
	r := Report{
		Ready:         s.ready.Load(),
		FeedConnected: s.feedConnected.Load(),
		Ticks:         s.ticks.Load(),
		UptimeSec:     int64(now.Sub(s.startedAt).Seconds()),
	}
	if ns := s.lastTick.Load(); ns != 0 {
		t := time.Unix(0, ns)
		r.LastTick = &t
		r.TickStale = s.staleAfter > 0 && now.Sub(t) > s.staleAfter
	}
	return r
}
