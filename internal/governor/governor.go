package governor

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dompet-ai/orchestrator/internal/config"
)

// Классы маршрутов с собственными лимитами.
const (
	RouteChat        = "chat"
	RouteInsights    = "insights.compute"
	RouteSimulate    = "simulate"
	RouteUploadCSV   = "upload-csv"
	RoutePreferences = "preferences"
)

const bucketIdleTTL = 10 * time.Minute

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Governor — пер-идентичностный token-bucket лимитер. Вёдра ключуются
// {routeClass}:{userId}:{remoteAddr}; таблица процесс-локальная и
// заменяема на распределенный счетчик за тем же интерфейсом.
type Governor struct {
	mu      sync.Mutex
	buckets map[string]*bucketEntry
	limits  map[string]rate.Limit
	burst   int
}

// New создает губернатор с лимитами из конфигурации.
func New(cfg config.GovernorConfig) *Governor {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Governor{
		buckets: make(map[string]*bucketEntry),
		limits: map[string]rate.Limit{
			RouteChat:        perMinute(cfg.ChatPerMinute),
			RouteInsights:    perMinute(cfg.InsightsPerMinute),
			RouteSimulate:    perMinute(cfg.SimulatePerMinute),
			RouteUploadCSV:   perMinute(cfg.UploadCSVPerMinute),
			RoutePreferences: perMinute(cfg.PreferencesPerMinute),
		},
		burst: burst,
	}
}

// Allow списывает один токен из ведра идентичности. При исчерпании
// возвращает false и подсказку retryAfter в секундах.
func (g *Governor) Allow(routeClass, userID, remoteAddr string) (bool, int) {
	limit, ok := g.limits[routeClass]
	if !ok {
		return true, 0
	}

	key := routeClass + ":" + userID + ":" + remoteAddr
	now := time.Now()

	g.mu.Lock()
	entry, ok := g.buckets[key]
	if !ok {
		entry = &bucketEntry{limiter: rate.NewLimiter(limit, g.burst)}
		g.buckets[key] = entry
	}
	entry.lastSeen = now
	g.pruneLocked(now)
	g.mu.Unlock()

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, int(math.Ceil(float64(time.Minute) / float64(time.Second)))
	}

	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return false, int(math.Ceil(delay.Seconds()))
	}

	return true, 0
}

// pruneLocked убирает простаивающие ведра; вызывается под мьютексом.
func (g *Governor) pruneLocked(now time.Time) {
	if len(g.buckets) < 1024 {
		return
	}
	for key, entry := range g.buckets {
		if now.Sub(entry.lastSeen) > bucketIdleTTL {
			delete(g.buckets, key)
		}
	}
}

func perMinute(count int) rate.Limit {
	if count <= 0 {
		count = 1
	}
	return rate.Limit(float64(count) / 60.0)
}
