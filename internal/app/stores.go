package app

import (
	"context"
	"errors"

	"kibot/internal/dedup"
	"kibot/internal/storage"
	"kibot/internal/subscription"
	logx "kibot/pkg/logx"
)

// Document names inside the store.
const (
	docWeatherSubs  = "weather_subscriptions"
	docAnimeSubs    = "bangumi_subscriptions"
	docCreatorSubs  = "bilibili_subscriptions"
	docCalendarSubs = "calendar_subscriptions"
	docSpecialDays  = "calendar_special_days"
	docBaselines    = "bilibili_baselines"
	docWarnings     = "weather_sent_warnings"
	docGreetings    = "calendar_greetings"
)

type stores struct {
	weather   *subscription.ListStore
	anime     *subscription.FlagStore
	creators  *subscription.ListStore
	calendar  *subscription.FlagStore
	specials  *subscription.SpecialDays
	baselines *dedup.Baselines
	warnings  *dedup.WarningTokens
	greetings *dedup.Baselines
}

func newStores(st storage.Store, log logx.Logger) stores {
	log = log.With(logx.String("comp", "subscription"))
	return stores{
		weather:   subscription.NewListStore(docWeatherSubs, st, log),
		anime:     subscription.NewFlagStore(docAnimeSubs, st, log),
		creators:  subscription.NewListStore(docCreatorSubs, st, log),
		calendar:  subscription.NewFlagStore(docCalendarSubs, st, log),
		specials:  subscription.NewSpecialDays(docSpecialDays, st, log),
		baselines: dedup.NewBaselines(docBaselines, st, log),
		warnings:  dedup.NewWarningTokens(docWarnings, st, log),
		greetings: dedup.NewBaselines(docGreetings, st, log),
	}
}

// load reads every document. Corrupt documents load empty; only store
// failures are returned.
func (s stores) load(ctx context.Context) error {
	return errors.Join(
		s.weather.Load(ctx),
		s.anime.Load(ctx),
		s.creators.Load(ctx),
		s.calendar.Load(ctx),
		s.specials.Load(ctx),
		s.baselines.Load(ctx),
		s.warnings.Load(ctx),
		s.greetings.Load(ctx),
	)
}
