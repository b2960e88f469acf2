package bot

import (
	"fmt"
	"strings"
)

const (
	replyUnavailable = "😵 服务暂时不可用，请稍后再试"
	replyDisabled    = "🚧 该功能未启用"
	replyBusy        = "⏳ 忙不过来啦，请稍后再试"

	usageWeather = "🌤️ 天气指令：\n" +
		"天气 <城市>：实时天气\n" +
		"天气 预警 <城市...>：当前预警\n" +
		"天气 台风：活跃台风\n" +
		"天气 订阅 <城市...>：订阅每日天气与预警\n" +
		"天气 取消订阅 <城市...>\n" +
		"天气 查看订阅"
	usageAlertCity  = "⚠️ 请指定城市，例如：天气 预警 北京"
	usageSubCity    = "⚠️ 请指定至少一个城市，例如：天气 订阅 北京 上海"
	usageAnime      = "📺 番剧指令：\n番剧 今日放送（今日）\n番剧 订阅\n番剧 取消订阅"
	usageCreator    = "📢 b站指令：\nb站 订阅 <UID>\nb站 取消订阅 <UID>\nb站 查看订阅\nb站 检查 <UID>"
	usageCreatorUID = "⚠️ 请提供UP主的UID，例如：b站 订阅 123456"
	replyBadUID     = "❌ UID 必须是纯数字"
	usageCalendar   = "📅 日历指令：\n日历 订阅\n日历 取消订阅\n" +
		"日历 纪念日 <YYYY-MM-DD|MM-DD> <内容>\n日历 删除纪念日 <日期>\n日历 纪念日列表"

	replyCheckSent   = "📢 检查完毕：已发送新动态截图"
	replyCheckShared = "📢 检查完毕：已发送新动态截图，并同步推送给其他 %d 个订阅群"
	replyCheckNone   = "📢 检查完毕：该UP主暂无新动态"
	replyCheckError  = "❌ 检查动态时出现错误"
)

func joinCities(cities []string) string { return strings.Join(cities, "、") }

func replyCityNotFound(cities ...string) string {
	return fmt.Sprintf("❌ 未找到城市：%s", joinCities(cities))
}

func helpText() string {
	return strings.Join([]string{
		"👋 我是Ki酱，@我并输入：",
		"任意内容：和我聊天",
		usageWeather,
		usageAnime,
		usageCreator,
		usageCalendar,
	}, "\n\n")
}
