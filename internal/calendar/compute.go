package calendar

import (
	"time"

	"github.com/6tail/lunar-go/HolidayUtil"
	lunar "github.com/6tail/lunar-go/calendar"
)

type monthDay struct{ month, day int }

var fixedSolar = map[monthDay]string{
	{1, 1}:   "元旦",
	{2, 14}:  "情人节",
	{3, 14}:  "白色情人节",
	{4, 1}:   "愚人节",
	{5, 1}:   "劳动节",
	{6, 1}:   "儿童节",
	{10, 1}:  "国庆节",
	{10, 31}: "万圣节",
	{12, 24}: "平安夜",
	{12, 25}: "圣诞节",
}

// Keyed by lunar month and day; leap months never match.
var fixedLunar = map[monthDay]string{
	{1, 1}:  "春节",
	{1, 15}: "元宵节",
	{5, 5}:  "端午节",
	{7, 7}:  "七夕节",
	{8, 15}: "中秋节",
	{9, 9}:  "重阳节",
	{12, 8}: "腊八节",
}

type nthWeekday struct {
	month   time.Month
	n       int
	weekday time.Weekday
	name    string
}

var floating = []nthWeekday{
	{time.May, 2, time.Sunday, "母亲节"},
	{time.June, 3, time.Sunday, "父亲节"},
	{time.November, 4, time.Thursday, "感恩节"},
}

// Statutory is one entry of the official holiday arrangement. Work marks an
// adjusted workday that falls on a weekend.
type Statutory struct {
	Name string
	Work bool
}

// StatutoryFunc looks up the arrangement for a date.
type StatutoryFunc func(year int, month time.Month, day int) (Statutory, bool)

// OfficialHolidays reads the arrangement table bundled with lunar-go.
func OfficialHolidays(year int, month time.Month, day int) (Statutory, bool) {
	h := HolidayUtil.GetHolidayByYmd(year, int(month), day)
	if h == nil {
		return Statutory{}, false
	}
	return Statutory{Name: h.GetName(), Work: h.IsWork()}, true
}

// Calendar computes Day values in a fixed location.
type Calendar struct {
	loc       *time.Location
	statutory StatutoryFunc
}

func New(loc *time.Location, statutory StatutoryFunc) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	if statutory == nil {
		statutory = OfficialHolidays
	}
	return &Calendar{loc: loc, statutory: statutory}
}

// On computes the metadata of the date t falls on in the calendar's location.
func (c *Calendar) On(t time.Time) Day {
	t = t.In(c.loc)
	y, m, dd := t.Date()
	date := time.Date(y, m, dd, 0, 0, 0, 0, c.loc)

	d := Day{Date: date}
	d.Weekend = date.Weekday() == time.Saturday || date.Weekday() == time.Sunday
	arr, official := c.statutory(y, m, dd)
	if official {
		d.Workday = arr.Work
	} else {
		d.Workday = !d.Weekend
	}
	d.Holiday = !d.Workday

	ld := lunar.NewSolarFromYmd(y, int(m), dd).GetLunar()
	d.Lunar = ld.GetMonthInChinese() + "月" + ld.GetDayInChinese()

	if name, ok := fixedSolar[monthDay{int(m), dd}]; ok {
		d.Festivals = append(d.Festivals, name)
	}
	if ld.GetMonth() > 0 {
		if name, ok := fixedLunar[monthDay{ld.GetMonth(), ld.GetDay()}]; ok {
			d.Festivals = append(d.Festivals, name)
		}
	}
	for _, f := range floating {
		if m == f.month && dd == nthWeekdayOf(y, f.month, f.n, f.weekday, c.loc) {
			d.Festivals = append(d.Festivals, f.name)
		}
	}
	if term := ld.GetJieQi(); term != "" {
		d.Festivals = append(d.Festivals, term)
	}

	if d.Workday && d.Weekend {
		d.AddSpecial("调休工作日")
	}
	if official && !arr.Work && arr.Name != "" && c.workdayAfter(date) {
		d.AddSpecial(arr.Name + "假期最后一天")
	}
	if m == time.July && dd == 1 {
		d.AddSpecial("夏天的开始")
	}
	return d
}

func (c *Calendar) workdayAfter(date time.Time) bool {
	next := date.AddDate(0, 0, 1)
	y, m, dd := next.Date()
	if arr, ok := c.statutory(y, m, dd); ok {
		return arr.Work
	}
	wd := next.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// nthWeekdayOf returns the day of month of the n-th weekday wd.
func nthWeekdayOf(year int, month time.Month, n int, wd time.Weekday, loc *time.Location) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc).Weekday()
	ahead := (int(wd) - int(first) + 7) % 7
	return 1 + ahead + (n-1)*7
}
