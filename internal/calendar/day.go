// Package calendar computes what is notable about a date: lunar date,
// statutory holidays and adjusted workdays, festivals, solar terms and
// a few hand-picked special days.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Day is the metadata for one calendar date. It is derived, never persisted.
type Day struct {
	Date    time.Time
	Lunar   string
	Workday bool
	Weekend bool
	// Holiday is true on any rest day, statutory or plain weekend.
	Holiday bool

	Festivals []string
	Specials  []string
}

// Clone returns a copy that can be annotated without touching d.
func (d Day) Clone() Day {
	d.Festivals = append([]string(nil), d.Festivals...)
	d.Specials = append([]string(nil), d.Specials...)
	return d
}

func (d *Day) AddSpecial(texts ...string) {
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			d.Specials = append(d.Specials, t)
		}
	}
}

// Notable reports whether the day carries a festival or special note.
func (d Day) Notable() bool { return len(d.Festivals) > 0 || len(d.Specials) > 0 }

// Lines renders the day as plain sentences; now supplies the clock line.
func (d Day) Lines(now time.Time) []string {
	lines := []string{
		fmt.Sprintf("今天是%s, 农历%s。", d.Date.Format(time.DateOnly), d.Lunar),
		fmt.Sprintf("现在是%s。", now.Format("15:04")),
	}
	switch {
	case d.Workday && d.Weekend:
		lines = append(lines, "今天是周末，但也是工作日。")
	case d.Workday:
		lines = append(lines, "今天是工作日。")
	case d.Holiday:
		// Any rest day, a plain weekend included.
		lines = append(lines, "今天是假期！")
	}
	if len(d.Festivals) > 0 {
		lines = append(lines, fmt.Sprintf("今天是节日：%s。", strings.Join(d.Festivals, ",")))
	}
	if len(d.Specials) > 0 {
		lines = append(lines, fmt.Sprintf("今天也是个特殊的日子，是%s。", strings.Join(d.Specials, ",")))
	}
	return lines
}
