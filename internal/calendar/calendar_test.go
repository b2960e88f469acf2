package calendar

import (
	"reflect"
	"slices"
	"testing"
	"time"
)

// springFestival2024 mirrors the 2024 arrangement: Feb 10-17 off, Sunday Feb 18 worked.
func springFestival2024(y int, m time.Month, d int) (Statutory, bool) {
	if y != 2024 || m != time.February {
		return Statutory{}, false
	}
	switch {
	case d >= 10 && d <= 17:
		return Statutory{Name: "春节"}, true
	case d == 18:
		return Statutory{Name: "春节", Work: true}, true
	}
	return Statutory{}, false
}

func none(int, time.Month, int) (Statutory, bool) { return Statutory{}, false }

func TestOnSpringFestival(t *testing.T) {
	t.Parallel()
	c := New(time.UTC, springFestival2024)

	d := c.On(time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC))
	if d.Lunar != "正月初一" {
		t.Fatalf("Lunar = %q", d.Lunar)
	}
	if !slices.Contains(d.Festivals, "春节") {
		t.Fatalf("Festivals = %v", d.Festivals)
	}
	if d.Workday || !d.Holiday || !d.Notable() {
		t.Fatalf("flags = %+v", d)
	}

	last := c.On(time.Date(2024, 2, 17, 9, 0, 0, 0, time.UTC))
	if !slices.Contains(last.Specials, "春节假期最后一天") {
		t.Fatalf("Specials = %v", last.Specials)
	}

	lieu := c.On(time.Date(2024, 2, 18, 9, 0, 0, 0, time.UTC))
	if !lieu.Workday || !lieu.Weekend || !slices.Contains(lieu.Specials, "调休工作日") {
		t.Fatalf("lieu day = %+v", lieu)
	}
	if lines := lieu.Lines(time.Date(2024, 2, 18, 8, 5, 0, 0, time.UTC)); lines[2] != "今天是周末，但也是工作日。" {
		t.Fatalf("Lines = %v", lines)
	}
}

func TestOnPlainWorkday(t *testing.T) {
	t.Parallel()
	d := New(time.UTC, none).On(time.Date(2026, 10, 13, 23, 0, 0, 0, time.UTC))
	if !d.Workday || d.Weekend || d.Holiday {
		t.Fatalf("flags = %+v", d)
	}
	if d.Notable() {
		t.Fatalf("plain day should not be notable: %v %v", d.Festivals, d.Specials)
	}
}

func TestOnUsesLocation(t *testing.T) {
	t.Parallel()
	sh := time.FixedZone("CST", 8*3600)
	// 2026-06-30 20:00 UTC is already July 1 in UTC+8.
	d := New(sh, none).On(time.Date(2026, 6, 30, 20, 0, 0, 0, time.UTC))
	if d.Date.Day() != 1 || !slices.Contains(d.Specials, "夏天的开始") {
		t.Fatalf("day = %+v", d)
	}
}

func TestFloatingFestivals(t *testing.T) {
	t.Parallel()
	c := New(time.UTC, none)
	cases := []struct {
		date time.Time
		want string
	}{
		{time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), "母亲节"},
		{time.Date(2026, 6, 21, 0, 0, 0, 0, time.UTC), "父亲节"},
		{time.Date(2026, 11, 26, 0, 0, 0, 0, time.UTC), "感恩节"},
		{time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC), "圣诞节"},
	}
	for _, tc := range cases {
		if d := c.On(tc.date); !slices.Contains(d.Festivals, tc.want) {
			t.Fatalf("%s: Festivals = %v, want %s", tc.date.Format(time.DateOnly), d.Festivals, tc.want)
		}
	}
}

func TestNthWeekdayOf(t *testing.T) {
	t.Parallel()
	if got := nthWeekdayOf(2026, time.May, 2, time.Sunday, time.UTC); got != 10 {
		t.Fatalf("got %d", got)
	}
	// Nov 1 2026 is a Sunday.
	if got := nthWeekdayOf(2026, time.November, 1, time.Sunday, time.UTC); got != 1 {
		t.Fatalf("got %d", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()
	base := Day{Festivals: []string{"a"}}
	c := base.Clone()
	c.AddSpecial("x", " ")
	c.Festivals[0] = "b"
	if base.Festivals[0] != "a" || len(base.Specials) != 0 {
		t.Fatalf("base mutated: %+v", base)
	}
	if !reflect.DeepEqual(c.Specials, []string{"x"}) {
		t.Fatalf("Specials = %v", c.Specials)
	}
}

func TestLines(t *testing.T) {
	t.Parallel()
	d := Day{
		Date:      time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Lunar:     "八月廿一",
		Holiday:   true,
		Festivals: []string{"国庆节"},
		Specials:  []string{"纪念日"},
	}
	want := []string{
		"今天是2026-10-01, 农历八月廿一。",
		"现在是09:30。",
		"今天是假期！",
		"今天是节日：国庆节。",
		"今天也是个特殊的日子，是纪念日。",
	}
	if got := d.Lines(time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)); !reflect.DeepEqual(got, want) {
		t.Fatalf("Lines =\n%v\nwant\n%v", got, want)
	}
}

func TestLinesPlainWeekendIsRestDay(t *testing.T) {
	t.Parallel()
	d := New(time.UTC, func(int, time.Month, int) (Statutory, bool) { return Statutory{}, false }).
		On(time.Date(2026, 10, 17, 7, 0, 0, 0, time.UTC))
	if !d.Weekend || !d.Holiday {
		t.Fatalf("Saturday flags = %+v", d)
	}
	if got := d.Lines(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)); got[2] != "今天是假期！" {
		t.Fatalf("Lines = %v", got)
	}
}
