package transcoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mctypes "github.com/aws/aws-sdk-go-v2/service/mediaconvert/types"
	"github.com/aws/smithy-go"

	"vidconv/internal/logging"
	"vidconv/internal/services"
)

const defaultEndpointRetries = 3

// DescribeFunc resolves the account-specific MediaConvert endpoint.
type DescribeFunc func(ctx context.Context) (string, error)

// EndpointCache resolves the MediaConvert endpoint once per process. The
// configured endpoint wins over discovery; discovery backs off 1s, 2s, 4s
// when rate limited.
type EndpointCache struct {
	mu         sync.Mutex
	cached     string
	configured string
	describe   DescribeFunc
	maxRetries int
	sleep      func(context.Context, time.Duration) error
	logger     *slog.Logger
}

// EndpointOption customizes an EndpointCache.
type EndpointOption func(*EndpointCache)

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) EndpointOption {
	return func(c *EndpointCache) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithMaxRetries bounds rate-limited discovery retries.
func WithMaxRetries(n int) EndpointOption {
	return func(c *EndpointCache) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewEndpointCache builds a cache with an optional configured endpoint.
func NewEndpointCache(configured string, describe DescribeFunc, logger *slog.Logger, opts ...EndpointOption) *EndpointCache {
	c := &EndpointCache{
		configured: strings.TrimSpace(configured),
		describe:   describe,
		maxRetries: defaultEndpointRetries,
		sleep:      sleepContext,
		logger:     logging.NewComponentLogger(logger, "mediaconvert-endpoint"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached endpoint, resolving it on first use.
func (c *EndpointCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != "" {
		return c.cached, nil
	}
	if c.configured != "" {
		c.cached = c.configured
		c.logger.Info("using configured mediaconvert endpoint", logging.String("endpoint", c.cached))
		return c.cached, nil
	}
	if c.describe == nil {
		return "", services.Wrap(services.ErrConfiguration, "transcode", "describe endpoints", "no endpoint configured and discovery unavailable", nil)
	}
	endpoint, err := c.discover(ctx)
	if err != nil {
		return "", err
	}
	c.cached = endpoint
	c.logger.Info("discovered mediaconvert endpoint", logging.String("endpoint", endpoint))
	return endpoint, nil
}

// Reset forgets the cached endpoint.
func (c *EndpointCache) Reset() {
	c.mu.Lock()
	c.cached = ""
	c.mu.Unlock()
}

func (c *EndpointCache) discover(ctx context.Context) (string, error) {
	for attempt := 0; ; attempt++ {
		endpoint, err := c.describe(ctx)
		if err == nil {
			endpoint = strings.TrimSpace(endpoint)
			if endpoint == "" {
				return "", services.Wrap(services.ErrExternalTool, "transcode", "describe endpoints", "no endpoints returned", nil)
			}
			return endpoint, nil
		}
		if !isRateLimited(err) || attempt >= c.maxRetries {
			return "", services.Wrap(services.ErrTransient, "transcode", "describe endpoints", "endpoint discovery failed", err)
		}
		wait := time.Duration(1<<attempt) * time.Second
		logging.WarnWithContext(c.logger, "endpoint discovery rate limited; backing off", "endpoint_rate_limited",
			logging.Duration("wait", wait),
			logging.String("attempt", fmt.Sprintf("%d/%d", attempt+1, c.maxRetries)),
			logging.String(logging.FieldErrorHint, "set aws.mediaconvert_endpoint to skip discovery"),
			logging.String(logging.FieldImpact, "job submission delayed"),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}

func isRateLimited(err error) bool {
	var tooMany *mctypes.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "TooManyRequestsException"
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
