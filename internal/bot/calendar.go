package bot

import (
	"context"
	"fmt"
	"strings"
)

func (d *Dispatcher) registerCalendar() {
	d.container("日历", usageCalendar, "calendar")
	d.register(Command{Route: "日历 订阅", Aliases: []string{"subscribe"}, Handle: d.calendarSubscribe})
	d.register(Command{Route: "日历 取消订阅", Aliases: []string{"unsubscribe"}, Handle: d.calendarUnsubscribe})
	d.register(Command{Route: "日历 纪念日", Aliases: []string{"add"}, Handle: d.specialAdd})
	d.register(Command{Route: "日历 删除纪念日", Aliases: []string{"del"}, Handle: d.specialRemove})
	d.register(Command{Route: "日历 纪念日列表", Aliases: []string{"list"}, Handle: d.specialList})
}

func (d *Dispatcher) calendarSubscribe(ctx context.Context, req *Request) (string, error) {
	if d.deps.CalendarSubs == nil {
		return replyDisabled, nil
	}
	if !d.deps.CalendarSubs.Set(ctx, req.Group, true) {
		return "ℹ️ 本群已订阅日历问候", nil
	}
	return "✅ 已订阅日历问候", nil
}

func (d *Dispatcher) calendarUnsubscribe(ctx context.Context, req *Request) (string, error) {
	if d.deps.CalendarSubs == nil {
		return replyDisabled, nil
	}
	if !d.deps.CalendarSubs.Set(ctx, req.Group, false) {
		return "ℹ️ 本群未订阅日历问候", nil
	}
	return "✅ 已取消订阅日历问候", nil
}

// specialAdd takes a date and the rest of the arguments as the text.
func (d *Dispatcher) specialAdd(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 2 {
		return usageCalendar, nil
	}
	if d.deps.Specials == nil {
		return replyDisabled, nil
	}
	date, text := req.Args[0], strings.Join(req.Args[1:], " ")
	if err := d.deps.Specials.Add(ctx, req.Group, date, text); err != nil {
		return "❌ 日期格式应为 YYYY-MM-DD 或 MM-DD", nil
	}
	return fmt.Sprintf("✅ 已添加纪念日 %s：%s", date, text), nil
}

func (d *Dispatcher) specialRemove(ctx context.Context, req *Request) (string, error) {
	date := req.Arg(0)
	if date == "" {
		return usageCalendar, nil
	}
	if d.deps.Specials == nil {
		return replyDisabled, nil
	}
	n := d.deps.Specials.Remove(ctx, req.Group, date)
	if n == 0 {
		return fmt.Sprintf("ℹ️ 没有 %s 的纪念日", date), nil
	}
	return fmt.Sprintf("✅ 已删除 %d 条纪念日", n), nil
}

func (d *Dispatcher) specialList(_ context.Context, req *Request) (string, error) {
	if d.deps.Specials == nil {
		return replyDisabled, nil
	}
	days := d.deps.Specials.List(req.Group)
	if len(days) == 0 {
		return "ℹ️ 本群还没有纪念日", nil
	}
	lines := []string{"📅 本群的纪念日："}
	for _, sd := range days {
		lines = append(lines, sd.Date+" "+sd.Text)
	}
	return strings.Join(lines, "\n"), nil
}
