// Package checkout runs the subscription purchase flow as an explicit state
// machine driven by provider confirmation events, and tracks the resulting
// subscription status.
package checkout

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"nevexpert/internal/models"
	"nevexpert/internal/redis"
)

// Method is the payment channel the user picked.
type Method string

const (
	MethodAlipay Method = "alipay"
	MethodWechat Method = "wechat"
)

// State of one checkout order.
type State string

const (
	StateSelection State = "selection"
	StateAwaiting  State = "awaiting-confirmation"
	StateSettled   State = "settled"
	StateFailed    State = "failed"
)

// Order is a single purchase attempt.
type Order struct {
	ID        int64     `json:"id"`
	PlanID    string    `json:"plan_id"`
	Method    Method    `json:"method,omitempty"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outcome is the provider's confirmation verdict for an order.
type Outcome struct {
	Settled bool
	Reason  string
}

// Provider confirms a dispatched payment. Implementations own their own
// timeout behaviour; the call resolves exactly once per order.
type Provider interface {
	Confirm(ctx context.Context, order Order) (Outcome, error)
}

// SimulatedProvider settles every order after a fixed delay. It stands in
// for a real payment gateway; nothing is charged.
type SimulatedProvider struct {
	Delay time.Duration
}

func (p *SimulatedProvider) Confirm(ctx context.Context, _ Order) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-time.After(p.Delay):
		return Outcome{Settled: true}, nil
	}
}

var (
	ErrUnknownPlan   = errors.New("unknown plan")
	ErrUnknownOrder  = errors.New("unknown order")
	ErrBadTransition = errors.New("order is not awaiting a payment method")
)

const subscriptionCacheKey = "checkout:subscription"

// Service owns orders and the current subscription status.
type Service struct {
	mu           sync.Mutex
	orders       map[int64]*Order
	done         map[int64]chan struct{}
	subscription models.SubscriptionStatus
	provider     Provider
	cache        *redis.Client
}

var orderSeq int64

func NewService(provider Provider, cache *redis.Client) *Service {
	return &Service{
		orders:       make(map[int64]*Order),
		done:         make(map[int64]chan struct{}),
		subscription: models.SubscriptionNone,
		provider:     provider,
		cache:        cache,
	}
}

// Plans returns the purchasable subscription catalog.
func Plans() []models.PricingPlan {
	return []models.PricingPlan{
		{
			ID:     "monthly",
			Name:   "极客专业版",
			Price:  499,
			Period: "month",
			Features: []string{
				"全量DTC故障库深度匹配",
				"三电系统拓扑逻辑分析",
				"IGBT功率模组诊断建议",
				"高压安全防护实时指引",
			},
		},
		{
			ID:     "yearly",
			Name:   "大师旗舰版",
			Price:  2999,
			Period: "year",
			Features: []string{
				"包含所有专业版权益",
				"CAN-FD 协议在线解析",
				"动力电池健康(SOH)算法库",
				"企业级多端协作终端",
				"专属技术总监介入",
			},
			Recommended: true,
		},
	}
}

func planByID(id string) (models.PricingPlan, bool) {
	for _, p := range Plans() {
		if p.ID == id {
			return p, true
		}
	}
	return models.PricingPlan{}, false
}

// Begin opens an order in the selection state.
func (s *Service) Begin(planID string) (*Order, error) {
	if _, ok := planByID(planID); !ok {
		return nil, ErrUnknownPlan
	}
	now := time.Now()
	order := &Order{
		ID:        atomic.AddInt64(&orderSeq, 1),
		PlanID:    planID,
		State:     StateSelection,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.orders[order.ID] = order
	s.done[order.ID] = make(chan struct{})
	s.mu.Unlock()
	return order, nil
}

// SelectMethod moves the order to awaiting-confirmation and dispatches the
// provider confirmation. The terminal transition happens asynchronously when
// the provider resolves.
func (s *Service) SelectMethod(ctx context.Context, orderID int64, method Method) (*Order, error) {
	if method != MethodAlipay && method != MethodWechat {
		return nil, errors.New("unsupported payment method")
	}
	s.mu.Lock()
	order, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownOrder
	}
	if order.State != StateSelection {
		s.mu.Unlock()
		return nil, ErrBadTransition
	}
	order.Method = method
	order.State = StateAwaiting
	order.UpdatedAt = time.Now()
	snapshot := *order
	s.mu.Unlock()

	// Confirmation outlives the request that dispatched it.
	go s.awaitConfirmation(context.WithoutCancel(ctx), snapshot)
	return &snapshot, nil
}

func (s *Service) awaitConfirmation(ctx context.Context, order Order) {
	outcome, err := s.provider.Confirm(ctx, order)
	if err != nil {
		outcome = Outcome{Settled: false, Reason: "payment confirmation failed"}
	}

	s.mu.Lock()
	live, ok := s.orders[order.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	live.UpdatedAt = time.Now()
	if outcome.Settled {
		live.State = StateSettled
		s.subscription = subscriptionForPlan(live.PlanID)
	} else {
		live.State = StateFailed
		live.Reason = outcome.Reason
	}
	subscription := s.subscription
	done := s.done[order.ID]
	s.mu.Unlock()

	if outcome.Settled {
		s.cacheSubscription(subscription)
	}
	close(done)
}

func subscriptionForPlan(planID string) models.SubscriptionStatus {
	if planID == "yearly" {
		return models.SubscriptionYearly
	}
	return models.SubscriptionMonthly
}

// cacheSubscription is best effort; the in-memory status stays authoritative.
func (s *Service) cacheSubscription(status models.SubscriptionStatus) {
	ttl := 30 * 24 * time.Hour
	if status == models.SubscriptionYearly {
		ttl = 365 * 24 * time.Hour
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, subscriptionCacheKey, string(status), ttl); err != nil {
		log.Printf("cache subscription status failed: %v", err)
	}
}

// Order returns a snapshot of the order's current state.
func (s *Service) Order(id int64) (*Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	snapshot := *order
	return &snapshot, true
}

// Wait returns a channel closed once the order reaches a terminal state.
func (s *Service) Wait(id int64) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done, ok := s.done[id]
	return done, ok
}

// Subscription returns the current status, consulting the cache once when
// nothing has settled in this process yet.
func (s *Service) Subscription(ctx context.Context) models.SubscriptionStatus {
	s.mu.Lock()
	current := s.subscription
	s.mu.Unlock()
	if current != models.SubscriptionNone {
		return current
	}

	cached, err := s.cache.Get(ctx, subscriptionCacheKey)
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("load subscription status failed: %v", err)
		}
		return models.SubscriptionNone
	}
	switch models.SubscriptionStatus(cached) {
	case models.SubscriptionMonthly, models.SubscriptionYearly:
		status := models.SubscriptionStatus(cached)
		s.mu.Lock()
		s.subscription = status
		s.mu.Unlock()
		return status
	default:
		return models.SubscriptionNone
	}
}

// Tier maps the current subscription onto the chat access tier.
func (s *Service) Tier(ctx context.Context) models.Tier {
	return s.Subscription(ctx).Tier()
}
