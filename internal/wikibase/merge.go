package wikibase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/raphaelgruber/wikibatch/internal/engine"
	"github.com/raphaelgruber/wikibatch/internal/models"
)

// actionResponse covers the parts of action API replies we read.
type actionResponse struct {
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error,omitempty"`
	Query struct {
		Tokens struct {
			CSRF string `json:"csrftoken"`
		} `json:"tokens"`
	} `json:"query"`
	Success int `json:"success"`
}

// merge merges two items with the action API, which the REST API does not
// cover.
func (c *Client) merge(ctx context.Context, op models.MergeEntities, comment string) (engine.Result, error) {
	var tok actionResponse
	if err := c.action(ctx, http.MethodGet, url.Values{"action": {"query"}, "meta": {"tokens"}}, &tok); err != nil {
		return engine.Result{}, err
	}
	if tok.Query.Tokens.CSRF == "" {
		return engine.Result{}, engine.NewPermanentError(models.ErrCodeUnauthorized, 0, "no csrf token issued")
	}

	form := url.Values{
		"action": {"wbmergeitems"},
		"fromid": {string(op.From)},
		"toid":   {string(op.To)},
		"token":  {tok.Query.Tokens.CSRF},
	}
	if comment != "" {
		form.Set("summary", comment)
	}
	var res actionResponse
	if err := c.action(ctx, http.MethodPost, form, &res); err != nil {
		return engine.Result{}, err
	}
	return engine.Result{EntityID: string(op.To)}, nil
}

// action calls api.php. Application errors arrive with status 200 and an
// "error" object.
func (c *Client) action(ctx context.Context, method string, params url.Values, out *actionResponse) error {
	params.Set("format", "json")

	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, c.actionURL+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.actionURL, strings.NewReader(params.Encode()))
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", params.Get("action"), c.actionURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Error != nil {
		switch out.Error.Code {
		case "maxlag", "ratelimited", "readonly":
			return engine.NewTransientError(resp.StatusCode, out.Error.Info)
		case "badtoken", "permissiondenied", "notloggedin":
			return engine.NewPermanentError(models.ErrCodeUnauthorized, resp.StatusCode, out.Error.Info)
		}
		return engine.NewPermanentError(models.ErrCodeAPIUserError, resp.StatusCode, out.Error.Code+": "+out.Error.Info)
	}
	return nil
}
