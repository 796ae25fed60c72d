package matching

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/BearBump/ShipSync/internal/models"
)

// Пороги из исходной системы: имена короче и шумнее адресов, отсюда
// асимметрия. Переопределяются через конфиг.
const (
	DefaultNameThreshold    = 0.7
	DefaultAddressThreshold = 0.8
)

// Similarity возвращает нормализованную похожесть двух строк в [0,1]:
// (maxLen - editDistance) / maxLen, без учёта регистра. Пустая строка даёт 0.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	d := levenshtein.ComputeDistance(a, b)
	if d >= maxLen {
		return 0
	}
	return float64(maxLen-d) / float64(maxLen)
}

type Config struct {
	NameThreshold    float64
	AddressThreshold float64
}

func DefaultConfig() Config {
	return Config{
		NameThreshold:    DefaultNameThreshold,
		AddressThreshold: DefaultAddressThreshold,
	}
}

type Matcher struct {
	cfg Config
}

func New(cfg Config) *Matcher {
	if cfg.NameThreshold <= 0 || cfg.NameThreshold > 1 {
		cfg.NameThreshold = DefaultNameThreshold
	}
	if cfg.AddressThreshold <= 0 || cfg.AddressThreshold > 1 {
		cfg.AddressThreshold = DefaultAddressThreshold
	}
	return &Matcher{cfg: cfg}
}

// MatchResult — лучший кандидат и контекст выбора для аудита: сколько
// кандидатов прошло порог и счёт второго места.
type MatchResult struct {
	Customer     *models.Customer
	NameScore    float64
	AddressScore float64

	Qualified     int
	RunnerUpScore float64
}

func (r MatchResult) bestScore() float64 {
	if r.NameScore > r.AddressScore {
		return r.NameScore
	}
	return r.AddressScore
}

// Best выбирает из кандидатов клиента, чьё имя похоже сильнее NameThreshold
// ИЛИ адрес сильнее AddressThreshold. При нескольких прошедших берётся
// больший из двух счётов.
func (m *Matcher) Best(name, address string, candidates []*models.Customer) (MatchResult, bool) {
	var best MatchResult
	found := false

	for _, c := range candidates {
		r := MatchResult{
			Customer:     c,
			NameScore:    Similarity(name, c.FullName),
			AddressScore: Similarity(address, c.Address),
		}
		if r.NameScore <= m.cfg.NameThreshold && r.AddressScore <= m.cfg.AddressThreshold {
			continue
		}

		if !found {
			best = r
			best.Qualified = 1
			found = true
			continue
		}

		best.Qualified++
		if r.bestScore() > best.bestScore() {
			runnerUp := best.bestScore()
			qualified := best.Qualified
			best = r
			best.Qualified = qualified
			best.RunnerUpScore = runnerUp
		} else if r.bestScore() > best.RunnerUpScore {
			best.RunnerUpScore = r.bestScore()
		}
	}

	return best, found
}
