/*
Copyright © 2026 GIP Pix <https://pix.fr>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package circleci is a minimal client for the two CircleCI endpoints this
// tool needs: the v1.1 build history of a branch, and the v2 pipeline
// continuation endpoint a setup workflow submits its generated
// configuration to.
package circleci

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public CircleCI API host.
	DefaultBaseURL = "https://circleci.com"
	// DefaultTimeout bounds every API call.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response is kept for messages.
	maxErrorBody = 1 << 20
)

// ErrNoBuildFound reports that a branch has no successful build to diff
// against. Callers recover by running everything.
var ErrNoBuildFound = errors.New("no successful build found")

// APIError reports a non-2xx response from the CircleCI API.
type APIError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned HTTP %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
}

// Project identifies a CircleCI project by VCS provider, organization and
// repository, as exposed in the CIRCLE_* build environment.
type Project struct {
	VCS  string
	Org  string
	Repo string
}

// Client calls the CircleCI API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client authenticating with the given API token.
func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    DefaultBaseURL,
		token:      token,
	}
}

// WithBaseURL returns a copy of the client pointed at a different host.
func (c *Client) WithBaseURL(baseURL string) *Client {
	d := *c
	d.baseURL = strings.TrimSuffix(baseURL, "/")
	return &d
}

// WithHTTPClient returns a copy of the client using the given http.Client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	d := *c
	d.httpClient = httpClient
	return &d
}

// LastSuccessfulCommit returns the revision of the most recent successful
// build of branch, or ErrNoBuildFound when the branch has none.
func (c *Client) LastSuccessfulCommit(ctx context.Context, project Project, branch string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v1.1/project/%s/%s/%s/tree/%s?filter=successful&limit=1",
		c.baseURL,
		url.PathEscape(project.VCS), url.PathEscape(project.Org), url.PathEscape(project.Repo),
		url.PathEscape(branch))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var builds []struct {
		VCSRevision string `json:"vcs_revision"`
	}
	if err := json.Unmarshal(body, &builds); err != nil {
		return "", fmt.Errorf("parsing build history for %s: %w", branch, err)
	}
	if len(builds) == 0 {
		return "", fmt.Errorf("%w for branch %s", ErrNoBuildFound, branch)
	}
	if builds[0].VCSRevision == "" {
		return "", fmt.Errorf("build record for %s has no vcs_revision", branch)
	}
	return builds[0].VCSRevision, nil
}

// continueRequest is the v2 continuation payload.
type continueRequest struct {
	ContinuationKey string         `json:"continuation-key"`
	Configuration   string         `json:"configuration"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

// Continue submits the generated configuration to the pipeline
// continuation endpoint.
func (c *Client) Continue(ctx context.Context, key string, configuration []byte, parameters map[string]any) error {
	endpoint := c.baseURL + "/api/v2/pipeline/continue"

	payload, err := json.Marshal(continueRequest{
		ContinuationKey: key,
		Configuration:   string(configuration),
		Parameters:      parameters,
	})
	if err != nil {
		return fmt.Errorf("encoding continuation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building continuation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submitting continuation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(endpoint, resp)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(endpoint, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}
	return body, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Circle-Token", c.token)
	}
}

func (c *Client) apiError(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		URL:        endpoint,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
