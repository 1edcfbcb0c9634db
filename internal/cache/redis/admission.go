package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

//go:embed scripts/admission.lua
var admissionLua string

// AdmissionPolicy is the per-client submission budget.
type AdmissionPolicy struct {
	// Limit orders per Window for any client without an override.
	Limit  int
	Window time.Duration
	// Clients overrides Limit for specific client ids.
	Clients map[string]int
}

// limitFor returns the budget for clientID.
func (p AdmissionPolicy) limitFor(clientID string) int {
	if n, ok := p.Clients[clientID]; ok && n > 0 {
		return n
	}
	return p.Limit
}

// AdmissionLimiter implements domain.AdmissionLimiter with one sorted set per
// client, trimmed and counted atomically by a Lua script so every gateway
// replica shares the same window.
type AdmissionLimiter struct {
	client *Client
	policy AdmissionPolicy
	script *redis.Script
	now    func() time.Time
}

// NewAdmissionLimiter creates an AdmissionLimiter enforcing policy.
func NewAdmissionLimiter(c *Client, policy AdmissionPolicy) *AdmissionLimiter {
	return &AdmissionLimiter{
		client: c,
		policy: policy,
		script: redis.NewScript(admissionLua),
		now:    time.Now,
	}
}

// Admit counts one submission for clientID if the client still has budget in
// the current window.
func (l *AdmissionLimiter) Admit(ctx context.Context, clientID string) (domain.Admission, error) {
	limit := l.policy.limitFor(clientID)
	now := l.now().UnixMicro()
	window := l.policy.Window.Microseconds()

	res, err := l.script.Run(ctx, l.client.rdb,
		[]string{l.client.key("admission", clientID)},
		now, window, limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.Admission{}, fmt.Errorf("redis: admit %s: %w", clientID, err)
	}
	if len(res) < 3 {
		return domain.Admission{}, fmt.Errorf("redis: admit %s: unexpected result length %d", clientID, len(res))
	}

	adm := domain.Admission{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: max(0, limit-int(res[1])),
	}
	if !adm.Allowed && res[2] > 0 {
		adm.RetryAfter = time.Duration(res[2]+window-now) * time.Microsecond
	}
	return adm, nil
}

var _ domain.AdmissionLimiter = (*AdmissionLimiter)(nil)
