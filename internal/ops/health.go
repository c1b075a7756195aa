package ops

import (
	"time"

	"github.com/hpungsan/logsift/internal/rules"
	"github.com/hpungsan/logsift/internal/store"
)

// HealthOutput contains the result of the Health operation.
type HealthOutput struct {
	Status        string `json:"status"` // "ok" or "stopped"
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ActiveSites   int    `json:"active_sites"`
	Queued        int    `json:"queued"`
	RuleSites     int    `json:"rule_sites"`
	RulesPath     string `json:"rules_path"`
}

// Health reports whether the store engine is running.
func Health(eng *store.Engine, reg *rules.Registry, started time.Time) *HealthOutput {
	status := "ok"
	select {
	case <-eng.Done():
		status = "stopped"
	default:
	}

	uptime := time.Since(started).Truncate(time.Second)
	return &HealthOutput{
		Status:        status,
		Uptime:        uptime.String(),
		UptimeSeconds: int64(uptime / time.Second),
		ActiveSites:   len(eng.ActiveSites()),
		Queued:        eng.QueueLen(),
		RuleSites:     reg.Sites(),
		RulesPath:     reg.Path(),
	}
}
