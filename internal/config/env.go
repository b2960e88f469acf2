package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that fill secrets left empty in the config file.
const (
	EnvNapCatToken    = "KIBOT_NAPCAT_TOKEN"
	EnvTelegramToken  = "KIBOT_TELEGRAM_TOKEN"
	EnvLLMAPIKey      = "KIBOT_LLM_API_KEY"
	EnvWeatherAPIKey  = "KIBOT_WEATHER_API_KEY"
	EnvBilibiliCookie = "KIBOT_BILIBILI_COOKIE"
)

// LoadDotEnv loads .env.local then .env from dir. Variables already set in
// the process environment win. It returns the files that were loaded.
func LoadDotEnv(dir string) ([]string, error) {
	var loaded []string
	for _, name := range []string{".env.local", ".env"} {
		p := filepath.Join(dir, name)
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, err
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// applyEnv fills empty secret fields from the environment.
func applyEnv(cfg *Config) {
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	fill(&cfg.Transport.NapCat.AccessToken, EnvNapCatToken)
	fill(&cfg.Transport.Telegram.Token, EnvTelegramToken)
	fill(&cfg.LLM.APIKey, EnvLLMAPIKey)
	fill(&cfg.Weather.APIKey, EnvWeatherAPIKey)
	fill(&cfg.Bilibili.Cookie, EnvBilibiliCookie)
}
