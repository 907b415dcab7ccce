package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPI configures the optional newsapi.org headline source.
type NewsAPI struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Query     string `yaml:"query"`
	// BaseURL overrides the endpoint; empty means newsapi.org.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

type newsAPIClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func newNewsAPIClient(cfg NewsAPI, timeout time.Duration) *newsAPIClient {
	base := cfg.BaseURL
	if base == "" {
		base = newsAPIBaseURL
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &newsAPIClient{
		apiKey:  strings.TrimSpace(os.Getenv(cfg.APIKeyEnv)),
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *newsAPIClient) configured() bool {
	return c.apiKey != ""
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		PublishedAt string `json:"publishedAt"`
		Description string `json:"description"`
		Content     string `json:"content"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// search returns articles matching query published since from.
func (c *newsAPIClient) search(ctx context.Context, query string, from time.Time, pageSize int) ([]Entry, error) {
	params := url.Values{
		"q":        {query},
		"from":     {from.Format("2006-01-02")},
		"language": {"en"},
		"pageSize": {strconv.Itoa(min(pageSize, 100))},
		"sortBy":   {"publishedAt"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result newsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding newsapi response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || result.Status != "ok" {
		return nil, fmt.Errorf("newsapi: HTTP %d: %s", resp.StatusCode, result.Message)
	}

	var entries []Entry
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" || a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}
		e := Entry{URL: a.URL, Title: strings.TrimSpace(a.Title), Source: "NewsAPI"}
		if a.Source.Name != "" {
			e.Source = a.Source.Name
		}
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			e.Published = t
		}
		e.Summary = strings.TrimSpace(a.Description)
		if e.Summary == "" {
			e.Summary = strings.TrimSpace(a.Content)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
