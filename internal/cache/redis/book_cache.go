package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polycopy/engine/internal/domain"
)

//go:embed scripts/book_update.lua
var bookUpdateLua string

// bookTTL caps how long an unrefreshed book lingers. The feed overwrites
// books far more often than this; the TTL just keeps dead assets from
// accumulating.
const bookTTL = 10 * time.Minute

// BookCache implements domain.OrderbookCache on Redis sorted sets, one
// book per asset.
//
// Key schema:
//
//	ob:{assetID}:bids      - zset of bid prices (score = price)
//	ob:{assetID}:asks      - zset of ask prices (score = price)
//	ob:{assetID}:bids:size - hash price -> size
//	ob:{assetID}:asks:size - hash price -> size
//	ob:{assetID}:bbo       - hash with "bid" and "ask" fields
//	ob:{assetID}:ts        - snapshot timestamp, unix nanoseconds
type BookCache struct {
	rdb        *redis.Client
	bookUpdate *redis.Script
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{
		rdb:        c.Underlying(),
		bookUpdate: redis.NewScript(bookUpdateLua),
	}
}

func bookKey(assetID, suffix string) string {
	return "ob:" + assetID + ":" + suffix
}

// SetSnapshot atomically replaces the cached book for an asset.
func (bc *BookCache) SetSnapshot(ctx context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	keys := []string{
		bookKey(assetID, "bids"),
		bookKey(assetID, "asks"),
		bookKey(assetID, "bids:size"),
		bookKey(assetID, "asks:size"),
		bookKey(assetID, "bbo"),
		bookKey(assetID, "ts"),
	}

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, keys...)

	writeSide := func(zKey, hKey string, levels []domain.PriceLevel) {
		for _, lvl := range levels {
			price := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
			size := strconv.FormatFloat(lvl.Size, 'f', -1, 64)
			pipe.ZAdd(ctx, zKey, redis.Z{Score: lvl.Price, Member: price})
			pipe.HSet(ctx, hKey, price, size)
		}
	}
	writeSide(keys[0], keys[2], snap.Bids)
	writeSide(keys[1], keys[3], snap.Asks)

	if snap.BestBid > 0 {
		pipe.HSet(ctx, keys[4], "bid", strconv.FormatFloat(snap.BestBid, 'f', -1, 64))
	}
	if snap.BestAsk > 0 {
		pipe.HSet(ctx, keys[4], "ask", strconv.FormatFloat(snap.BestAsk, 'f', -1, 64))
	}
	pipe.Set(ctx, keys[5], strconv.FormatInt(snap.Timestamp.UnixNano(), 10), bookTTL)

	for _, k := range keys[:5] {
		pipe.Expire(ctx, k, bookTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", assetID, err)
	}
	return nil
}

// GetSnapshot reconstructs the cached book. Returns domain.ErrNotFound
// when no book is cached for the asset.
func (bc *BookCache) GetSnapshot(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	pipe := bc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookKey(assetID, "bids"), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookKey(assetID, "asks"), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookKey(assetID, "bids:size"))
	askSizeCmd := pipe.HGetAll(ctx, bookKey(assetID, "asks:size"))
	bboCmd := pipe.HGetAll(ctx, bookKey(assetID, "bbo"))
	tsCmd := pipe.Get(ctx, bookKey(assetID, "ts"))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get book %s: %w", assetID, err)
	}

	tsStr, err := tsCmd.Result()
	if err == redis.Nil || tsStr == "" {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: book %s: %w", assetID, domain.ErrNotFound)
	}

	snap := domain.OrderbookSnapshot{AssetID: assetID}
	if tsNano, perr := strconv.ParseInt(tsStr, 10, 64); perr == nil {
		snap.Timestamp = time.Unix(0, tsNano)
	}

	readSide := func(zs []redis.Z, sizes map[string]string) []domain.PriceLevel {
		levels := make([]domain.PriceLevel, 0, len(zs))
		for _, z := range zs {
			price, ok := z.Member.(string)
			if !ok {
				continue
			}
			size := 0.0
			if s, exists := sizes[price]; exists {
				size, _ = strconv.ParseFloat(s, 64)
			}
			levels = append(levels, domain.PriceLevel{Price: z.Score, Size: size})
		}
		return levels
	}

	bidsZ, _ := bidsCmd.Result()
	bidSizes, _ := bidSizeCmd.Result()
	snap.Bids = readSide(bidsZ, bidSizes)

	asksZ, _ := asksCmd.Result()
	askSizes, _ := askSizeCmd.Result()
	snap.Asks = readSide(asksZ, askSizes)

	bbo, _ := bboCmd.Result()
	if bid, ok := bbo["bid"]; ok {
		snap.BestBid, _ = strconv.ParseFloat(bid, 64)
	}
	if ask, ok := bbo["ask"]; ok {
		snap.BestAsk, _ = strconv.ParseFloat(ask, 64)
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}

	return snap, nil
}

// UpdateLevel applies one incremental level change atomically and
// recomputes the touched side's best price. size 0 removes the level.
func (bc *BookCache) UpdateLevel(ctx context.Context, assetID, side string, price, size float64) error {
	var sideArg string
	switch side {
	case "bids", "BUY", "buy":
		sideArg = "bids"
	case "asks", "SELL", "sell":
		sideArg = "asks"
	default:
		return fmt.Errorf("redis: update level: unknown side %q", side)
	}

	keys := []string{
		bookKey(assetID, sideArg),
		bookKey(assetID, sideArg+":size"),
		bookKey(assetID, "bbo"),
	}
	args := []interface{}{
		strconv.FormatFloat(price, 'f', -1, 64),
		strconv.FormatFloat(size, 'f', -1, 64),
		sideArg,
		int(bookTTL.Seconds()),
	}

	if err := bc.bookUpdate.Run(ctx, bc.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis: update level %s %s: %w", assetID, sideArg, err)
	}
	return nil
}

var _ domain.OrderbookCache = (*BookCache)(nil)
