package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/spendflow/transfer-ledger/internal/log"
	"github.com/spendflow/transfer-ledger/internal/models"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "X-Idempotency-Replayed"
	cachePrefix          = "idempotency:transfers:"
)

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// responseCache stores final responses keyed by the Idempotency-Key header
// and a digest of the body, so the same key sent with a different body, or
// by another owner, never replays someone else's response.
type responseCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newResponseCache(client *redis.Client, ttl time.Duration) *responseCache {
	return &responseCache{client: client, ttl: ttl}
}

func cacheKey(key string, body []byte) string {
	sum := sha256.Sum256(body)
	return cachePrefix + key + ":" + hex.EncodeToString(sum[:])
}

func (r *responseCache) get(ctx context.Context, key string) (cachedResponse, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return cachedResponse{}, false, nil
	}
	if err != nil {
		return cachedResponse{}, false, err
	}
	var resp cachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return cachedResponse{}, false, err
	}
	return resp, true, nil
}

func (r *responseCache) put(ctx context.Context, key string, resp cachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return r.client.SetNX(ctx, key, raw, r.ttl).Err()
}

// final reports whether a response is the settled outcome of a request and
// may be replayed. Rejected input, conflicts and server errors are not
// cached, and neither is a transfer whose body does not carry a terminal
// status.
func final(status int, body []byte) bool {
	switch status {
	case fiber.StatusCreated, fiber.StatusOK, fiber.StatusUnprocessableEntity:
	default:
		return false
	}
	var outcome struct {
		Status models.TransferStatus `json:"status"`
	}
	if err := json.Unmarshal(body, &outcome); err != nil {
		return false
	}
	return outcome.Status.Terminal()
}

// idempotent is the middleware in front of POST /transfers. Cache failures
// are logged and the request goes through: the ledger itself deduplicates
// on the idempotency key.
func (s *Server) idempotent(c *fiber.Ctx) error {
	key := c.Get(headerIdempotencyKey)
	if s.cache == nil || key == "" {
		return c.Next()
	}

	ctx := c.UserContext()
	ck := cacheKey(key, c.Body())

	resp, ok, err := s.cache.get(ctx, ck)
	if err != nil {
		s.logger.Log(ctx, log.LevelWarn, "idempotency cache read failed", log.Err(err))
	}
	if ok {
		c.Set(headerReplayed, "true")
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(resp.Status).Send(resp.Body)
	}

	if err := c.Next(); err != nil {
		// Let the error handler render the response first so it can be stored.
		if herr := s.handleError(c, err); herr != nil {
			return herr
		}
	}

	status := c.Response().StatusCode()
	body := append([]byte(nil), c.Response().Body()...)
	if !final(status, body) {
		return nil
	}
	if err := s.cache.put(ctx, ck, cachedResponse{Status: status, Body: body}); err != nil {
		s.logger.Log(ctx, log.LevelWarn, "idempotency cache write failed", log.Err(err))
	}
	return nil
}
