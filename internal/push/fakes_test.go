package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"kibot/internal/service"
	"kibot/internal/service/bangumi"
	"kibot/internal/service/bilibili"
	"kibot/internal/service/weather"
	kit "kibot/internal/transport"
)

type sent struct {
	chat    int64
	content kit.Content
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	fail map[int64]bool
}

func (f *fakeSender) Send(_ context.Context, to kit.ChatTarget, c kit.Content) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to.ChatID] {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, sent{to.ChatID, c})
	return nil
}

func (f *fakeSender) to(chat int64) []kit.Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []kit.Content
	for _, s := range f.sent {
		if s.chat == chat {
			out = append(out, s.content)
		}
	}
	return out
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type onceJob struct {
	at  time.Time
	job func(ctx context.Context) error
}

type fakeScheduler struct {
	mu    sync.Mutex
	specs map[string]string
	once  map[string]onceJob
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{specs: map[string]string{}, once: map[string]onceJob{}}
}

func (s *fakeScheduler) AddDaily(name, at string, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[name] = "daily " + at
	return name, nil
}

func (s *fakeScheduler) AddCron(name, spec string, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[name] = spec
	return name, nil
}

func (s *fakeScheduler) AddInterval(name string, every, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[name] = "every " + every.String()
	return name, nil
}

func (s *fakeScheduler) AddOnce(name string, at time.Time, _ time.Duration, job func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.once[name] = onceJob{at: at, job: job}
	return name, nil
}

func (s *fakeScheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, a := s.specs[name]
	_, b := s.once[name]
	delete(s.specs, name)
	delete(s.once, name)
	return a || b
}

type fakeWeather struct {
	mu      sync.Mutex
	alerts  map[string][]weather.Alert
	lookups int
}

func (f *fakeWeather) Lookup(_ context.Context, city string) (weather.Location, error) {
	f.mu.Lock()
	f.lookups++
	f.mu.Unlock()
	if city == "火星" {
		return weather.Location{}, service.NotFound("city %q", city)
	}
	return weather.Location{ID: "id-" + city, Name: city}, nil
}

func (f *fakeWeather) Today(_ context.Context, id string) (weather.Daily, error) {
	return weather.Daily{TextDay: "晴", TextNight: "多云", TempMin: "10", TempMax: "20", WindDirDay: "北风", WindScaleDay: "3"}, nil
}

func (f *fakeWeather) Alerts(_ context.Context, id string) ([]weather.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]weather.Alert(nil), f.alerts[id]...), nil
}

func (f *fakeWeather) setAlerts(id string, a ...weather.Alert) {
	f.mu.Lock()
	f.alerts[id] = a
	f.mu.Unlock()
}

type fakeAnime struct {
	list []bangumi.Subject
	err  error
	day  time.Weekday
}

func (f *fakeAnime) Airing(_ context.Context, wd time.Weekday) ([]bangumi.Subject, error) {
	f.day = wd
	return f.list, f.err
}

type fakeCreators struct {
	mu     sync.Mutex
	latest map[string]string
	calls  map[string]int
}

func newFakeCreators() *fakeCreators {
	return &fakeCreators{latest: map[string]string{}, calls: map[string]int{}}
}

func (f *fakeCreators) Latest(_ context.Context, uid string) (bilibili.Dynamic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[uid]++
	id, ok := f.latest[uid]
	if !ok {
		return bilibili.Dynamic{}, service.Unavailable(nil, "uid %s", uid)
	}
	return bilibili.Dynamic{ID: id}, nil
}

func (f *fakeCreators) set(uid, id string) {
	f.mu.Lock()
	f.latest[uid] = id
	f.mu.Unlock()
}

type fakeShots struct {
	err error
}

func (f fakeShots) Capture(_ context.Context, id, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "/cache/" + id + ".png", nil
}

type fakeGreeter struct {
	err   error
	lines []string
}

func (f *fakeGreeter) Greeting(_ context.Context, lines []string) (string, error) {
	f.lines = lines
	if f.err != nil {
		return "", f.err
	}
	return "早上好呀", nil
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}
