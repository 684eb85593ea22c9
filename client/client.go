// Package client is the invocation client used by every generated call
// site: breaker check, endpoint resolution with a short-lived cache, the
// HTTP call itself, and retries on transient outcomes.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"mini-mesh/breaker"
	"mini-mesh/config"
	"mini-mesh/loadbalance"
	"mini-mesh/logger"
	"mini-mesh/message"
	"mini-mesh/mesherr"
	"mini-mesh/metrics"
	"mini-mesh/registry"
	"mini-mesh/routing"
)

const (
	outcomeSuccess     = "success"
	outcomeCircuitOpen = "circuit_open"
	outcomeNoEndpoint  = "no_endpoint"
	outcomeUnavailable = "registry_unavailable"
	outcomeExhausted   = "exhausted"
	outcomeCanceled    = "canceled"
)

type Client struct {
	breaker   *breaker.Breaker
	resolver  *routing.Resolver
	table     *routing.Table
	cache     *EndpointCache
	http      *http.Client
	clock     clock.Clock
	cfg       *config.InvocationConfig
	algorithm loadbalance.Algorithm
	log       *zap.SugaredLogger
}

// New builds a client. httpClient should come from transport.Pool so that
// its timeout covers one attempt; table may be nil when InvokeService is
// not used.
func New(b *breaker.Breaker, resolver *routing.Resolver, table *routing.Table, httpClient *http.Client, clk clock.Clock, cfg *config.InvocationConfig) *Client {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout()}
	}
	return &Client{
		breaker:   b,
		resolver:  resolver,
		table:     table,
		cache:     NewEndpointCache(cfg.EndpointCacheTTL(), clk),
		http:      httpClient,
		clock:     clk,
		cfg:       cfg,
		algorithm: resolver.DefaultAlgorithm(),
		log:       logger.GetLogger().Named("client"),
	}
}

// Cache exposes the endpoint cache.
func (c *Client) Cache() *EndpointCache {
	return c.cache
}

// InvokeService maps a logical service name to its destination through the
// routing table and invokes method there.
func (c *Client) InvokeService(ctx context.Context, service, method string, req *message.Request) (*message.Response, error) {
	destination := service
	if c.table != nil {
		destination = c.table.Resolve(service)
	}
	return c.Invoke(ctx, destination, method, req)
}

// Invoke calls method on one endpoint of destination.
//
// Any response other than 408, 429 or 5xx is returned as is and counts as
// a success for the breaker. Transient outcomes evict the endpoint from
// the cache and are retried after RetryDelay*2^attempt, up to MaxRetries
// times; when retries run out the failure is recorded and a
// *mesherr.TransientInvocationError is returned. A canceled ctx returns
// ctx.Err() and records nothing.
func (c *Client) Invoke(ctx context.Context, destination, method string, req *message.Request) (*message.Response, error) {
	start := c.clock.Now()
	if req == nil {
		req = &message.Request{}
	}

	if err := c.breaker.Allow(ctx, destination); err != nil {
		metrics.ObserveInvocation(destination, outcomeCircuitOpen, c.clock.Since(start))
		return nil, err
	}

	var (
		lastErr    error
		lastStatus int
		attempts   int
	)
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.clock, backoffDelay(c.cfg.RetryDelay(), attempt-1)); err != nil {
				metrics.ObserveInvocation(destination, outcomeCanceled, c.clock.Since(start))
				return nil, err
			}
			metrics.IncRetry(destination)
		}

		ep, err := c.resolve(ctx, destination)
		if err != nil {
			if ctx.Err() != nil {
				metrics.ObserveInvocation(destination, outcomeCanceled, c.clock.Since(start))
				return nil, ctx.Err()
			}
			outcome := outcomeNoEndpoint
			if mesherr.IsRegistryUnavailable(err) {
				outcome = outcomeUnavailable
			}
			metrics.ObserveInvocation(destination, outcome, c.clock.Since(start))
			return nil, err
		}

		attempts++
		resp, err := c.do(ctx, ep, method, req)
		if ctx.Err() != nil {
			metrics.ObserveInvocation(destination, outcomeCanceled, c.clock.Since(start))
			return nil, ctx.Err()
		}
		if err == nil && !transientStatus(resp.StatusCode) {
			if rerr := c.breaker.RecordSuccess(ctx, destination); rerr != nil {
				c.log.Warnw("failed to record success", "destination", destination, "error", rerr)
			}
			resp.Attempts = attempts
			metrics.ObserveInvocation(destination, outcomeSuccess, c.clock.Since(start))
			return resp, nil
		}

		lastErr, lastStatus = err, 0
		if err == nil {
			lastStatus = resp.StatusCode
		}
		c.cache.Invalidate(destination, ep.InstanceID)
		c.log.Debugw("transient invocation failure",
			"destination", destination, "method", method, "instanceId", ep.InstanceID,
			"attempt", attempt, "status", lastStatus, "error", err)
	}

	if err := c.breaker.RecordFailure(ctx, destination); err != nil {
		c.log.Warnw("failed to record failure", "destination", destination, "error", err)
	}
	metrics.ObserveInvocation(destination, outcomeExhausted, c.clock.Since(start))
	return nil, &mesherr.TransientInvocationError{
		Destination: destination,
		Method:      method,
		Attempts:    attempts,
		StatusCode:  lastStatus,
		Cause:       lastErr,
	}
}

// resolve returns the next cached candidate, or resolves a fresh route on
// a miss. When the registry is unreachable the stale candidates are used.
func (c *Client) resolve(ctx context.Context, destination string) (*registry.Endpoint, error) {
	if ep, ok := c.cache.Next(destination); ok {
		metrics.IncCacheHit(destination)
		return ep, nil
	}
	metrics.IncCacheMiss(destination)

	route, err := c.resolver.Route(ctx, destination, c.algorithm)
	if err != nil {
		if mesherr.IsRegistryUnavailable(err) {
			if ep, ok := c.cache.Stale(destination); ok {
				c.log.Warnw("registry unavailable, using stale endpoints", "destination", destination, "error", err)
				return ep, nil
			}
		}
		return nil, err
	}

	c.cache.Put(destination, route.Candidates())
	if ep, ok := c.cache.Next(destination); ok {
		return ep, nil
	}
	return route.Primary, nil
}

func (c *Client) do(ctx context.Context, ep *registry.Endpoint, method string, req *message.Request) (*message.Response, error) {
	url := fmt.Sprintf("http://%s/%s", ep.Address(), strings.TrimPrefix(method, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, unwrapTransport(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, unwrapTransport(err)
	}
	return &message.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		InstanceID: ep.InstanceID,
	}, nil
}

// unwrapTransport strips the *url.Error wrapper net/http adds so that the
// cause kept on TransientInvocationError names the network failure.
func unwrapTransport(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}

