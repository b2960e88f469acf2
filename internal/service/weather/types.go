package weather

import (
	"strings"
	"time"
)

// Location is a resolved city.
type Location struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
	Adm1    string `json:"adm1"` // province
	Adm2    string `json:"adm2"` // city / county
}

// Now is the current-conditions observation.
type Now struct {
	ObsTime   string `json:"obsTime"`
	Temp      string `json:"temp"`
	FeelsLike string `json:"feelsLike"`
	Text      string `json:"text"`
	WindDir   string `json:"windDir"`
	WindScale string `json:"windScale"`
	Humidity  string `json:"humidity"`
	Pressure  string `json:"pressure"`
	Vis       string `json:"vis"`
}

// Daily is one day of the 7-day forecast.
type Daily struct {
	FxDate       string `json:"fxDate"`
	TempMax      string `json:"tempMax"`
	TempMin      string `json:"tempMin"`
	TextDay      string `json:"textDay"`
	TextNight    string `json:"textNight"`
	WindDirDay   string `json:"windDirDay"`
	WindScaleDay string `json:"windScaleDay"`
	Humidity     string `json:"humidity"`
	UVIndex      string `json:"uvIndex"`
}

// Alert is an active weather warning.
type Alert struct {
	ID            string `json:"id"`
	Sender        string `json:"sender"`
	PubTime       string `json:"pubTime"`
	Title         string `json:"title"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	Status        string `json:"status"`
	Severity      string `json:"severity"`
	SeverityColor string `json:"severityColor"`
	TypeName      string `json:"typeName"`
	Text          string `json:"text"`
}

// Alerts without an end time expire one day after they start.
const defaultAlertLifetime = 24 * time.Hour

// Expiry returns the alert's declared end time, or start + 24h when no end
// is declared. ok is false when neither time parses.
func (a Alert) Expiry() (time.Time, bool) {
	if t, ok := parseTime(a.EndTime); ok {
		return t, true
	}
	if t, ok := parseTime(a.StartTime); ok {
		return t.Add(defaultAlertLifetime), true
	}
	return time.Time{}, false
}

// Storm is an active tropical cyclone with its latest position.
type Storm struct {
	ID        string
	Name      string
	Year      string
	Active    bool
	PubTime   string
	Lat       string
	Lon       string
	Type      string
	Pressure  string
	WindSpeed string
	MoveDir   string
	MoveSpeed string
}

// QWeather timestamps are "2006-01-02T15:04+08:00"; some endpoints use full RFC3339.
var timeLayouts = []string{"2006-01-02T15:04Z07:00", time.RFC3339}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Wire shapes.

type geoResponse struct {
	Code     string     `json:"code"`
	Location []Location `json:"location"`
}

type nowResponse struct {
	Code string `json:"code"`
	Now  *Now   `json:"now"`
}

type dailyResponse struct {
	Code  string  `json:"code"`
	Daily []Daily `json:"daily"`
}

type warningResponse struct {
	Code    string  `json:"code"`
	Warning []Alert `json:"warning"`
}

type stormListResponse struct {
	Code  string `json:"code"`
	Storm []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Basin    string `json:"basin"`
		Year     string `json:"year"`
		IsActive string `json:"isActive"`
	} `json:"storm"`
}

type stormTrackResponse struct {
	Code     string `json:"code"`
	IsActive string `json:"isActive"`
	Now      *struct {
		PubTime   string `json:"pubTime"`
		Lat       string `json:"lat"`
		Lon       string `json:"lon"`
		Type      string `json:"type"`
		Pressure  string `json:"pressure"`
		WindSpeed string `json:"windSpeed"`
		MoveDir   string `json:"moveDir"`
		MoveSpeed string `json:"moveSpeed"`
	} `json:"now"`
}
