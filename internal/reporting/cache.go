package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey = "reports:version"
	// defaultFillTimeout bounds a shared loader run once it is detached from callers.
	defaultFillTimeout = 30 * time.Second
	// BumpChannel carries cache version bumps between processes.
	BumpChannel = "reports.bump"
)

// Cache stores serialized report results in Redis under a global version.
type Cache struct {
	client      *redis.Client
	ttl         time.Duration
	fillTimeout time.Duration
	group       singleflight.Group
	lookups     *prometheus.CounterVec
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, fillTimeout: defaultFillTimeout}
}

// SetFillTimeout bounds shared cache fills. Non-positive values keep the default.
func (c *Cache) SetFillTimeout(d time.Duration) {
	if c != nil && d > 0 {
		c.fillTimeout = d
	}
}

// Instrument registers a hit/miss counter for cache lookups.
func (c *Cache) Instrument(registerer prometheus.Registerer) error {
	if c == nil || registerer == nil {
		return nil
	}
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tawseel_report_cache_lookups_total",
		Help: "Report cache lookups partitioned by report and result.",
	}, []string{"report", "result"})
	if err := registerer.Register(lookups); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		lookups = already.ExistingCollector.(*prometheus.CounterVec)
	}
	c.lookups = lookups
	return nil
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader. Concurrent
// misses on the same key share one loader call, which runs detached from any
// single caller's cancellation; each caller still stops waiting on its own ctx.
func (c *Cache) FetchJSON(ctx context.Context, report, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		c.observe(report, "hit")
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	c.observe(report, "miss")

	ch := c.group.DoChan(key, func() (interface{}, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fillTimeout)
		defer cancel()
		value, err := loader(fillCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(fillCtx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Bump invalidates the cache by incrementing the global version and publishing an event.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation follows version bumps published by other processes.
func (c *Cache) ListenForInvalidation(ctx context.Context, channel string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if channel == "" {
		channel = BumpChannel
	}
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if ver, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil && ver > 0 {
					current, err := c.client.Get(ctx, cacheVersionKey).Int64()
					if err == nil && current >= ver {
						continue
					}
					_ = c.client.Set(ctx, cacheVersionKey, ver, 0).Err()
					continue
				}
				_ = c.client.Incr(ctx, cacheVersionKey).Err()
			}
		}
	}()
	return nil
}

func (c *Cache) observe(report, result string) {
	if c.lookups != nil {
		c.lookups.WithLabelValues(report, result).Inc()
	}
}

func roundTrip(value, dest interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func reportKey(report string, businessID uuid.UUID, filters Filters, extra ...string) string {
	parts := []string{
		"reports",
		report,
		businessID.String(),
		filters.DateFrom.Format(dateLayout),
		filters.DateTo.Format(dateLayout),
		idToken(filters.CountryID),
		idToken(filters.CarrierID),
		idToken(filters.EmployeeID),
		idToken(filters.ProductID),
		idToken(filters.StatusID),
		textToken(filters.StatusKey),
		strconv.FormatBool(filters.AdCostIncluded()),
		string(filters.EffectiveDenominator()),
	}
	return strings.Join(append(parts, extra...), ":")
}

func idToken(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

func textToken(v string) string {
	if v == "" {
		return "-"
	}
	return strconv.Quote(v)
}
