package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
)

// NewClient creates a client against the default GitHub API endpoint.
func NewClient() *Client {
	return &Client{
		BaseURL:    DefaultAPIEndpoint,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// WithBaseURL returns a copy of c pointed at a custom base URL, for
// GitHub Enterprise or tests against an httptest server.
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := *c
	cp.BaseURL = baseURL
	return &cp
}

func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}
	return u
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func nextPageURL(headers http.Header) string {
	link := headers.Get("Link")
	if link == "" {
		return ""
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// doRequest performs one authenticated GET, retrying transient
// failures (network errors, 5xx, and rate limiting) with exponential
// backoff up to MaxRetries times. Retry-After, when present on a 429 or
// rate-limited 403, overrides the backoff's own delay.
func (c *Client) doRequest(ctx context.Context, token, urlStr string) ([]byte, http.Header, error) {
	var body []byte
	var headers http.Header

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxRetries), ctx)

	// oauth2.NewClient wraps c.HTTPClient's transport to attach the
	// bearer token on every request, so credential rotation between
	// doRequest calls is just a different token source per call.
	authed := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := authed.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		const maxResponseSize = 50 * 1024 * 1024
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					select {
					case <-ctx.Done():
						return backoff.Permanent(ctx.Err())
					case <-time.After(time.Duration(seconds) * time.Second):
					}
				}
			}
			return fmt.Errorf("rate limited (status %d)", resp.StatusCode)
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("upstream error (status %d): %s", resp.StatusCode, string(respBody))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("API error: %s (status %d)", string(respBody), resp.StatusCode))
		}

		body = respBody
		headers = resp.Header
		return nil
	}, policy)

	if err != nil {
		return nil, nil, err
	}
	return body, headers, nil
}

func (c *Client) listParams(repo Repo, stateAll bool, p ListParams) string {
	if p.NextURL != "" {
		return p.NextURL
	}
	params := map[string]string{
		"per_page":  strconv.Itoa(PageSize),
		"page":      strconv.Itoa(p.Page + 1), // GitHub pages are 1-based.
		"sort":      "updated",
		"direction": string(p.Direction),
	}
	if stateAll {
		params["state"] = "all"
	}
	if p.Since != nil {
		params["since"] = p.Since.UTC().Format(time.RFC3339)
	}
	return c.buildURL(fmt.Sprintf("/repos/%s/issues", repo.path()), params)
}

// ListIssues fetches one page of issues (both open and closed, per
// state=all), descending or ascending by updated time per p.Direction.
// Items that are actually pull requests (PullRequestRef non-nil) are
// filtered out, matching the GitHub API's quirk of returning PRs from
// the issues endpoint.
func (c *Client) ListIssues(ctx context.Context, token string, repo Repo, p ListParams) (Page[Issue], error) {
	urlStr := c.listParams(repo, true, p)

	body, headers, err := c.doRequest(ctx, token, urlStr)
	if err != nil {
		return Page[Issue]{}, fmt.Errorf("list issues for %s: %w", repo.path(), err)
	}

	var items []Issue
	if err := json.Unmarshal(body, &items); err != nil {
		return Page[Issue]{}, fmt.Errorf("parse issues response: %w", err)
	}

	filtered := items[:0]
	for _, it := range items {
		if it.PullRequestRef == nil {
			filtered = append(filtered, it)
		}
	}

	return Page[Issue]{Items: filtered, NextURL: nextPageURL(headers)}, nil
}

// ListPullRequests fetches one page of pull requests.
func (c *Client) ListPullRequests(ctx context.Context, token string, repo Repo, p ListParams) (Page[PullRequest], error) {
	urlStr := p.NextURL
	if urlStr == "" {
		params := map[string]string{
			"per_page":  strconv.Itoa(PageSize),
			"page":      strconv.Itoa(p.Page + 1),
			"sort":      "updated",
			"direction": string(p.Direction),
			"state":     "all",
		}
		urlStr = c.buildURL(fmt.Sprintf("/repos/%s/pulls", repo.path()), params)
	}

	body, headers, err := c.doRequest(ctx, token, urlStr)
	if err != nil {
		return Page[PullRequest]{}, fmt.Errorf("list pull requests for %s: %w", repo.path(), err)
	}

	var items []PullRequest
	if err := json.Unmarshal(body, &items); err != nil {
		return Page[PullRequest]{}, fmt.Errorf("parse pull requests response: %w", err)
	}

	return Page[PullRequest]{Items: items, NextURL: nextPageURL(headers)}, nil
}

// ListComments fetches one page of comments on issue number, since
// p.Since if set.
func (c *Client) ListComments(ctx context.Context, token string, repo Repo, number int, p ListParams) (Page[Comment], error) {
	urlStr := p.NextURL
	if urlStr == "" {
		params := map[string]string{
			"per_page": strconv.Itoa(PageSize),
			"page":     strconv.Itoa(p.Page + 1),
		}
		if p.Since != nil {
			params["since"] = p.Since.UTC().Format(time.RFC3339)
		}
		urlStr = c.buildURL(fmt.Sprintf("/repos/%s/issues/%d/comments", repo.path(), number), params)
	}

	body, headers, err := c.doRequest(ctx, token, urlStr)
	if err != nil {
		return Page[Comment]{}, fmt.Errorf("list comments for %s#%d: %w", repo.path(), number, err)
	}

	var items []Comment
	if err := json.Unmarshal(body, &items); err != nil {
		return Page[Comment]{}, fmt.Errorf("parse comments response: %w", err)
	}

	return Page[Comment]{Items: items, NextURL: nextPageURL(headers)}, nil
}
