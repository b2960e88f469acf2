package weather

import (
	"fmt"
	"strings"
	"time"
)

// Checked in order; the first key contained in the text wins.
var emojiMap = []struct{ key, emoji string }{
	{"晴", "☀️"},
	{"多云", "⛅"},
	{"阴", "☁️"},
	{"小雨", "🌦️"},
	{"中雨", "🌧️"},
	{"大雨", "🌧️"},
	{"暴雨", "⛈️"},
	{"雪", "❄️"},
	{"雾", "🌫️"},
	{"霾", "🌫️"},
}

// Emoji picks an icon for a condition text such as "多云转晴".
func Emoji(text string) string {
	for _, e := range emojiMap {
		if strings.Contains(text, e.key) {
			return e.emoji
		}
	}
	return "🌈"
}

// FormatNow renders a current-conditions reply.
func FormatNow(loc Location, n Now) string {
	place := loc.Name
	if loc.Adm1 != "" && loc.Adm1 != loc.Name {
		place = loc.Adm1 + " " + loc.Name
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📍 %s 实时天气\n", place)
	fmt.Fprintf(&b, "%s %s\n", Emoji(n.Text), n.Text)
	fmt.Fprintf(&b, "🌡️ 温度 %s°C（体感 %s°C）\n", n.Temp, n.FeelsLike)
	fmt.Fprintf(&b, "💨 %s %s 级\n", n.WindDir, n.WindScale)
	fmt.Fprintf(&b, "💧 湿度 %s%%", n.Humidity)
	return b.String()
}

// ForecastHeader is the first line of the daily broadcast.
func ForecastHeader(day time.Time) string {
	return fmt.Sprintf("📅 今日天气播报 %d月%d日", int(day.Month()), day.Day())
}

// FormatForecastBlock renders one city's block of the daily broadcast.
func FormatForecastBlock(loc Location, d Daily) string {
	day, night := Emoji(d.TextDay), Emoji(d.TextNight)
	return fmt.Sprintf("%s %s\n🌅 日间 %s%s / 🌃 夜间 %s%s\n🌡️ %s°C ~ %s°C\n💨 %s %s 级",
		day, loc.Name,
		day, d.TextDay, night, d.TextNight,
		d.TempMin, d.TempMax,
		d.WindDirDay, d.WindScaleDay)
}

// FailedBlock stands in for a city whose forecast could not be fetched.
func FailedBlock(city string) string {
	return fmt.Sprintf("⚠️ %s：获取失败", city)
}

type severityStyle struct {
	emoji string
	level string
}

func styleOf(color string) severityStyle {
	switch strings.ToLower(strings.TrimSpace(color)) {
	case "red":
		return severityStyle{"🔴", "红色"}
	case "orange":
		return severityStyle{"🟠", "橙色"}
	case "yellow":
		return severityStyle{"🟡", "黄色"}
	case "blue":
		return severityStyle{"🔵", "蓝色"}
	default:
		return severityStyle{"⚠️", ""}
	}
}

// FormatAlert renders one warning with a severity-specific opening line.
func FormatAlert(city string, a Alert) string {
	st := styleOf(a.SeverityColor)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s%s预警\n", st.emoji, city, st.level)
	if a.Title != "" {
		b.WriteString(a.Title)
		b.WriteString("\n")
	}
	if a.Text != "" {
		b.WriteString(a.Text)
		b.WriteString("\n")
	}
	if a.Sender != "" || a.PubTime != "" {
		fmt.Fprintf(&b, "📢 %s %s", a.Sender, shortTime(a.PubTime))
	}
	return strings.TrimRight(b.String(), "\n ")
}

// NoAlerts is the reply when a city has no active warning.
func NoAlerts(city string) string {
	return fmt.Sprintf("⚠️ 暂无「%s」的预警信息", city)
}

const NoStorms = "🌀 当前没有活跃的台风"

// FormatStorms renders the active storm list.
func FormatStorms(storms []Storm) string {
	if len(storms) == 0 {
		return NoStorms
	}
	lines := []string{"🌀 当前活跃台风："}
	for _, s := range storms {
		line := fmt.Sprintf("🌀 %s（%s）", s.Name, s.ID)
		if s.Lat != "" && s.Lon != "" {
			line += fmt.Sprintf("\n📍 %s°N %s°E", s.Lat, s.Lon)
		}
		if s.Pressure != "" || s.WindSpeed != "" {
			line += fmt.Sprintf("\n💨 中心气压 %shPa，最大风速 %sm/s", s.Pressure, s.WindSpeed)
		}
		if s.MoveDir != "" {
			line += fmt.Sprintf("\n➡️ 向%s移动，速度 %skm/h", s.MoveDir, s.MoveSpeed)
		}
		if s.PubTime != "" {
			line += "\n🕒 " + shortTime(s.PubTime)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n\n")
}

func shortTime(s string) string {
	if t, ok := parseTime(s); ok {
		return t.Format("01-02 15:04")
	}
	return s
}
