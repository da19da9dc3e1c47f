// Package tracking keeps the server-authoritative record of reading
// behavior during disclosure: maximum scroll coverage and cumulative visible
// dwell time. The client only reports deltas; the server decides threshold
// satisfaction and never lets recorded maxima decrease.
package tracking

import (
	"time"

	"custodia/pkg/domain"
)

// Session is one disclosure view's engagement record, keyed by the gate
// access token.
type Session struct {
	Token          string
	NoticeID       domain.NoticeID
	MaxScrollPct   float64
	DwellSeconds   float64
	RequiredScroll float64
	RequiredDwell  time.Duration
	StartedAt      time.Time
	SatisfiedAt    *time.Time
}

// ScrollMet reports whether the coverage threshold has been reached.
func (s *Session) ScrollMet() bool {
	return s.MaxScrollPct >= s.RequiredScroll
}

// DwellMet reports whether enough visible reading time has accrued.
func (s *Session) DwellMet() bool {
	return s.DwellSeconds >= s.RequiredDwell.Seconds()
}

// Satisfied reports whether both thresholds hold.
func (s *Session) Satisfied() bool {
	return s.ScrollMet() && s.DwellMet()
}

// Heartbeat is one client progress report. Deltas below the recorded maxima
// are ignored; dwell only accrues while the tab reports itself visible.
type Heartbeat struct {
	ScrollPct    float64 `json:"scroll_pct"`
	DwellSeconds float64 `json:"dwell_seconds"`
	Visible      bool    `json:"visible"`
}

// Progress is the server's authoritative answer to a heartbeat.
type Progress struct {
	MaxScrollPct float64 `json:"max_scroll_pct"`
	DwellSeconds float64 `json:"dwell_seconds"`
	ScrollMet    bool    `json:"scroll_met"`
	DwellMet     bool    `json:"dwell_met"`
	Satisfied    bool    `json:"satisfied"`
}
