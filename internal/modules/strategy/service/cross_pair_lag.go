package service

import (
	"math"
	"time"

	"bot_engine/internal/models"
)

var crossPairLagDefaults = map[string]any{
	"leader":         "BTC",
	"window":         "2s",
	"minLeaderMove":  0.3,
	"maxFollowerLag": 0.15,
}

type crossPairLagConfig struct {
	Leader         string
	Window         time.Duration
	MinLeaderMove  float64
	MaxFollowerLag float64
}

func readCrossPairLag(r *reader) crossPairLagConfig {
	c := crossPairLagConfig{
		Leader:         r.string("leader"),
		Window:         r.duration("window"),
		MinLeaderMove:  r.float("minLeaderMove"),
		MaxFollowerLag: r.float("maxFollowerLag"),
	}
	r.check(c.Leader != "", "leader must be set")
	r.check(c.Window > 0, "window must be > 0")
	r.check(c.MinLeaderMove > 0, "minLeaderMove must be > 0")
	r.check(c.MaxFollowerLag > 0, "maxFollowerLag must be > 0")
	r.check(c.MaxFollowerLag < c.MinLeaderMove, "maxFollowerLag must be below minLeaderMove")
	return c
}

// CrossPairLag ловит момент, когда лидер уже сдвинулся, а ведомый ещё нет,
// и входит в ведомый по направлению лидера.
type CrossPairLag struct {
	*base
	c crossPairLagConfig
}

func newCrossPairLag(b *base, r *reader) Strategy {
	s := &CrossPairLag{base: b, c: readCrossPairLag(r)}
	b.impl = s
	return s
}

func (s *CrossPairLag) instruments() []string { return []string{s.c.Leader} }

func (s *CrossPairLag) requires() models.Metric { return models.MetricPrice }

func (s *CrossPairLag) analyze(cond models.MarketCondition) models.TradingSignal {
	if cond.Instrument == s.c.Leader {
		return signal(models.SignalNone, 0, "instrument is the leader")
	}
	leader, err := s.market.PriceChange(s.c.Leader, s.c.Window)
	if err != nil {
		return signal(models.SignalNone, 0, "insufficient data: leader move")
	}
	follower, err := s.market.PriceChange(cond.Instrument, s.c.Window)
	if err != nil {
		return signal(models.SignalNone, 0, "insufficient data: follower move")
	}

	lm := math.Abs(leader.Percent)
	fm := math.Abs(follower.Percent)
	if lm < s.c.MinLeaderMove {
		return signal(models.SignalNone, 0, "leader move %.3f%% below %.3f%%", leader.Percent, s.c.MinLeaderMove)
	}
	if fm >= s.c.MaxFollowerLag {
		return signal(models.SignalNone, 0, "follower already moved %.3f%%", follower.Percent)
	}

	strength := math.Min(1, lm/(2*s.c.MinLeaderMove))
	lag := 1 - fm/lm
	conf := math.Min(0.95, 0.6*strength+0.4*lag)

	t := models.SignalBuy
	if leader.Percent < 0 {
		t = models.SignalSell
	}
	sig := signal(t, conf, "%s moved %.3f%% in %s, %s lags at %.3f%%",
		s.c.Leader, leader.Percent, s.c.Window, cond.Instrument, follower.Percent)
	sig.Metadata = map[string]any{
		"leader":       s.c.Leader,
		"leaderMove":   leader.Percent,
		"followerMove": follower.Percent,
	}
	return sig
}
