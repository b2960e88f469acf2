package bot

import (
	"context"
	"fmt"
	"strings"

	logx "kibot/pkg/logx"
)

func (d *Dispatcher) registerCreator() {
	d.container("b站", usageCreator, "bilibili")
	d.register(Command{Route: "b站 订阅", Aliases: []string{"sub", "subscribe"}, Handle: d.creatorSubscribe})
	d.register(Command{Route: "b站 取消订阅", Aliases: []string{"unsub", "unsubscribe"}, Handle: d.creatorUnsubscribe})
	d.register(Command{Route: "b站 查看订阅", Aliases: []string{"list"}, Handle: d.creatorList})
	d.register(Command{Route: "b站 检查", Aliases: []string{"check"}, Handle: d.creatorCheck})
}

// uidArg returns the creator id argument, or the reply explaining why it
// is unusable.
func uidArg(req *Request) (uid string, reply string) {
	uid = req.Arg(0)
	if uid == "" {
		return "", usageCreatorUID
	}
	if !isDigits(uid) {
		return "", replyBadUID
	}
	return uid, ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (d *Dispatcher) creatorSubscribe(ctx context.Context, req *Request) (string, error) {
	uid, bad := uidArg(req)
	if bad != "" {
		return bad, nil
	}
	if d.deps.CreatorSubs == nil {
		return replyDisabled, nil
	}
	if d.deps.CreatorSubs.Has(req.Group, uid) {
		return fmt.Sprintf("ℹ️ 本群已订阅UP主 %s", uid), nil
	}
	d.deps.CreatorSubs.Add(ctx, req.Group, uid)
	if d.deps.Creators != nil {
		d.deps.Creators.SeedAsync(uid)
	}
	return fmt.Sprintf("✅ 已订阅UP主 %s 的动态", uid), nil
}

func (d *Dispatcher) creatorUnsubscribe(ctx context.Context, req *Request) (string, error) {
	uid, bad := uidArg(req)
	if bad != "" {
		return bad, nil
	}
	if d.deps.CreatorSubs == nil {
		return replyDisabled, nil
	}
	if !d.deps.CreatorSubs.Has(req.Group, uid) {
		return fmt.Sprintf("ℹ️ 本群未订阅UP主 %s", uid), nil
	}
	d.deps.CreatorSubs.Remove(ctx, req.Group, uid)
	return fmt.Sprintf("✅ 已取消订阅UP主 %s", uid), nil
}

func (d *Dispatcher) creatorList(_ context.Context, req *Request) (string, error) {
	if d.deps.CreatorSubs == nil {
		return replyDisabled, nil
	}
	uids := d.deps.CreatorSubs.Targets(req.Group)
	if len(uids) == 0 {
		return "ℹ️ 本群尚未订阅任何UP主", nil
	}
	return "📢 本群订阅的UP主：\n" + strings.Join(uids, "\n"), nil
}

// creatorCheck runs one comparison now. Failures get their own reply rather
// than the generic unavailable one.
func (d *Dispatcher) creatorCheck(ctx context.Context, req *Request) (string, error) {
	uid, bad := uidArg(req)
	if bad != "" {
		return bad, nil
	}
	if d.deps.Creators == nil {
		return replyDisabled, nil
	}
	found, others, err := d.deps.Creators.Check(ctx, uid, req.Group)
	switch {
	case err != nil:
		req.Log.Warn("manual check failed", logx.String("uid", uid), logx.Err(err))
		return replyCheckError, nil
	case !found:
		return replyCheckNone, nil
	case others > 0:
		return fmt.Sprintf(replyCheckShared, others), nil
	}
	return replyCheckSent, nil
}
