// Package pricing estimates an intent's USD value for policy thresholds.
// Quotes come from a configured static table fronted by a Redis cache; the
// estimate is best-effort and never fails the pipeline.
package pricing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"intentflow/internal/common/config"
	"intentflow/internal/common/database"
	"intentflow/internal/common/logger"
	"intentflow/internal/parser"
)

// PriceSource quotes one asset in USD.
type PriceSource interface {
	PriceUSD(ctx context.Context, asset string) (float64, error)
}

// fallbackPrices backs assets missing from the configured table so policy
// evaluation stays deterministic without a quote feed.
var fallbackPrices = map[string]float64{
	"BTC":  65000,
	"ETH":  3200,
	"SOL":  150,
	"USDC": 1,
	"USDT": 1,
	"ARB":  1.1,
	"DOGE": 0.12,
	"BNB":  550,
}

// StaticSource serves prices from configuration.
type StaticSource struct {
	prices map[string]float64
}

// NewStaticSource overlays the configured prices onto the fallback table.
func NewStaticSource(configured map[string]float64) *StaticSource {
	prices := make(map[string]float64, len(fallbackPrices)+len(configured))
	for k, v := range fallbackPrices {
		prices[k] = v
	}
	for k, v := range configured {
		prices[parser.NormalizeAsset(k)] = v
	}
	return &StaticSource{prices: prices}
}

func (s *StaticSource) PriceUSD(_ context.Context, asset string) (float64, error) {
	price, ok := s.prices[asset]
	if !ok {
		return 0, fmt.Errorf("no price for %s", asset)
	}
	return price, nil
}

// RedisCache fronts a price source with a TTL cache. Cache failures fall
// through to the source.
type RedisCache struct {
	redis  *database.RedisClient
	source PriceSource
	ttl    time.Duration
	log    logger.Logger
}

// NewRedisCache creates the cache with the configured TTL.
func NewRedisCache(redis *database.RedisClient, source PriceSource, cfg config.PricingConfig, log logger.Logger) *RedisCache {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{redis: redis, source: source, ttl: ttl, log: log}
}

func (c *RedisCache) PriceUSD(ctx context.Context, asset string) (float64, error) {
	key := "price:" + asset
	if cached, err := c.redis.Get(ctx, key); err == nil {
		if price, perr := strconv.ParseFloat(cached, 64); perr == nil {
			return price, nil
		}
	}

	price, err := c.source.PriceUSD(ctx, asset)
	if err != nil {
		return 0, err
	}
	if err := c.redis.Set(ctx, key, strconv.FormatFloat(price, 'f', -1, 64), c.ttl); err != nil {
		c.log.Warn("price cache write failed", map[string]interface{}{
			"asset": asset,
			"error": err.Error(),
		})
	}
	return price, nil
}

// Estimator turns a parsed intent into a USD estimate.
type Estimator struct {
	prices PriceSource
	log    logger.Logger
}

// NewEstimator creates an estimator over a price source.
func NewEstimator(prices PriceSource, log logger.Logger) *Estimator {
	return &Estimator{prices: prices, log: log}
}

// EstimateUSD values the intent's amount in USD. An intent without an
// amount estimates to zero; an unpriceable unit is taken at face value so
// thresholds still apply.
func (e *Estimator) EstimateUSD(ctx context.Context, parsed *parser.ParsedIntent) float64 {
	if parsed == nil || parsed.Amount == "" {
		return 0
	}
	amount, err := decimal.NewFromString(parsed.Amount)
	if err != nil {
		return 0
	}

	unit := parsed.AmountUnit
	if unit == "" {
		unit = parsed.TargetAsset
	}
	if unit == "" {
		return toFloat(amount)
	}

	price, err := e.prices.PriceUSD(ctx, unit)
	if err != nil {
		if e.log != nil {
			e.log.Debug("no price for unit, using face value", map[string]interface{}{
				"unit": unit,
			})
		}
		return toFloat(amount)
	}
	return toFloat(amount.Mul(decimal.NewFromFloat(price)))
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
