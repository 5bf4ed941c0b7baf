package core

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Send pushes one request through the pipeline: proactive refresh when the
// token is expiring and refreshable, credential attachment, dispatch, and on
// a 401 for an authenticated attempt exactly one coordinated refresh-and-
// retry. Every failure comes back as a *classify.ClassifiedError.
func (c *Client) Send(ctx context.Context, req Request) (response *Response, err error) {
	if c == nil {
		return nil, fmt.Errorf("core: client is nil")
	}
	startedAt := c.clockNow()
	fields := map[string]any{
		"profile": c.Profile(),
		"method":  req.Method,
		"url":     req.URL,
	}
	defer func() {
		if response != nil {
			fields["status_code"] = response.StatusCode
		}
		c.observeOperation(ctx, startedAt, "send", err, fields)
	}()

	if c.transport == nil {
		err = c.classifyFailure(fmt.Errorf("core: transport adapter is not configured"))
		return nil, err
	}
	c.normalizeRequest(&req)

	// The initiating caller's return context wins; waiters joining a shared
	// refresh flight never override it.
	if ReturnToFromContext(ctx) == "" {
		ctx = WithReturnTo(ctx, req.ReturnTo)
	}

	set, loadErr := c.lifecycle.Current(ctx)
	if loadErr != nil {
		err = c.classifyFailure(loadErr)
		return nil, err
	}
	if set != nil {
		state := ResolveTokenState(c.clockNow(), *set, c.lifecycle.Window())
		if (state.IsExpired || state.IsExpiringSoon) && state.CanAutoRefresh && c.coordinator != nil {
			// Suspension, not failure: wait for the shared flight. When it
			// fails the coordinator has already ended the session, so the
			// request is never sent.
			if _, refreshErr := c.coordinator.Refresh(ctx); refreshErr != nil {
				err = c.classifyFailure(refreshErr)
				return nil, err
			}
		}
	}

	attempt, authenticated, sendErr := c.dispatch(ctx, &req)
	if sendErr != nil {
		// Transport-level failures are never retried.
		err = c.classifyFailure(sendErr)
		return nil, err
	}
	if attempt.StatusCode == http.StatusUnauthorized {
		response, err = c.recoverUnauthorized(ctx, &req, attempt, authenticated)
		return response, err
	}
	if attempt.StatusCode >= http.StatusBadRequest {
		err = c.classifyResponse(attempt)
		return nil, err
	}
	return attempt, nil
}

func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Send(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

func (c *Client) Post(ctx context.Context, rawURL string, body []byte) (*Response, error) {
	return c.Send(ctx, Request{Method: http.MethodPost, URL: rawURL, Body: body})
}

func (c *Client) Put(ctx context.Context, rawURL string, body []byte) (*Response, error) {
	return c.Send(ctx, Request{Method: http.MethodPut, URL: rawURL, Body: body})
}

func (c *Client) Patch(ctx context.Context, rawURL string, body []byte) (*Response, error) {
	return c.Send(ctx, Request{Method: http.MethodPatch, URL: rawURL, Body: body})
}

func (c *Client) Delete(ctx context.Context, rawURL string) (*Response, error) {
	return c.Send(ctx, Request{Method: http.MethodDelete, URL: rawURL})
}

// recoverUnauthorized handles the reactive 401 path. At most one retry per
// logical request; the second 401 (or a missing refresh token) ends the
// session with one event for this request.
func (c *Client) recoverUnauthorized(ctx context.Context, req *Request, attempt *Response, authenticated bool) (*Response, error) {
	// A 401 on an unauthenticated attempt is the caller's problem: no
	// refresh, no session teardown.
	if !authenticated {
		return nil, c.classifyResponse(attempt)
	}
	if req.retried {
		c.endSession(ctx, SessionEndReasonUnauthorized, unauthorizedCause(attempt))
		return nil, c.classifyResponse(attempt)
	}
	req.retried = true

	set, loadErr := c.lifecycle.Current(ctx)
	if loadErr != nil {
		return nil, c.classifyFailure(loadErr)
	}
	if set == nil || !set.HasRefreshToken() || c.coordinator == nil {
		c.endSession(ctx, SessionEndReasonUnauthorized, unauthorizedCause(attempt))
		return nil, c.classifyResponse(attempt)
	}

	if _, refreshErr := c.coordinator.Refresh(ctx); refreshErr != nil {
		// The coordinator already cleared credentials and emitted the
		// session-ended event inside the flight.
		return nil, c.classifyFailure(refreshErr)
	}

	retry, _, sendErr := c.dispatch(ctx, req)
	if sendErr != nil {
		return nil, c.classifyFailure(sendErr)
	}
	if retry.StatusCode == http.StatusUnauthorized {
		c.endSession(ctx, SessionEndReasonUnauthorized, unauthorizedCause(retry))
		return nil, c.classifyResponse(retry)
	}
	if retry.StatusCode >= http.StatusBadRequest {
		return nil, c.classifyResponse(retry)
	}
	return retry, nil
}

// dispatch signs the descriptor against the current credential and executes
// it. The signature is recomputed on every attempt so a retry carries the
// token the refresh just produced.
func (c *Client) dispatch(ctx context.Context, req *Request) (*Response, bool, error) {
	set, err := c.lifecycle.Current(ctx)
	if err != nil {
		return nil, false, err
	}
	authenticated := false
	if set != nil && set.HasAccessToken() {
		if signErr := c.signer.Sign(ctx, req, *set); signErr != nil {
			return nil, false, fmt.Errorf("core: request signing failed: %w", signErr)
		}
		authenticated = true
	}

	result, doErr := c.transport.Do(ctx, TransportRequest{
		Method:               req.Method,
		URL:                  req.URL,
		Headers:              copyStringMap(req.Headers),
		Query:                copyStringMap(req.Query),
		Body:                 req.Body,
		Metadata:             copyAnyMap(req.Metadata),
		Timeout:              req.Timeout,
		MaxResponseBodyBytes: req.MaxResponseBodyBytes,
	})
	if doErr != nil {
		return nil, authenticated, doErr
	}
	return &Response{
		StatusCode: result.StatusCode,
		Headers:    result.Headers,
		Body:       result.Body,
		Metadata:   result.Metadata,
	}, authenticated, nil
}

func (c *Client) normalizeRequest(req *Request) {
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.URL = c.resolveURL(req.URL)
	if req.Timeout <= 0 {
		req.Timeout = c.config.RequestTimeout
	}
	if req.MaxResponseBodyBytes <= 0 {
		req.MaxResponseBodyBytes = c.config.MaxResponseBodyBytes
	}
	if strings.TrimSpace(req.ReturnTo) == "" {
		req.ReturnTo = requestPath(req.URL)
	}
}

// resolveURL joins a relative request path onto the configured base URL.
// Absolute URLs pass through untouched.
func (c *Client) resolveURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	base := strings.TrimSpace(c.config.BaseURL)
	if base == "" || rawURL == "" {
		return rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.IsAbs() {
		return rawURL
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rawURL, "/")
}

func requestPath(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	if parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}

func unauthorizedCause(resp *Response) error {
	if resp == nil {
		return fmt.Errorf("core: request unauthorized")
	}
	return fmt.Errorf("core: request unauthorized with status %d", resp.StatusCode)
}

func (c *Client) endSession(ctx context.Context, reason SessionEndReason, cause error) {
	terminateSession(ctx, c.lifecycle, c.sessionEventStore, c.hooks, c.logger, SessionEndedEvent{
		Profile:    c.Profile(),
		Reason:     reason,
		OccurredAt: c.clockNow().UTC(),
		Err:        cause,
	})
}

func (c *Client) classifyFailure(err error) error {
	if err == nil {
		return nil
	}
	if c == nil || c.classifier == nil {
		return err
	}
	return c.classifier.Classify(err)
}

func (c *Client) classifyResponse(resp *Response) error {
	if resp == nil {
		return c.classifyFailure(fmt.Errorf("core: no response received"))
	}
	if c == nil || c.classifier == nil {
		return fmt.Errorf("core: request failed with status %d", resp.StatusCode)
	}
	return c.classifier.ClassifyResponse(resp.StatusCode, resp.Headers, resp.Body)
}
