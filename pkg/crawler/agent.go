package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/kadirpekel/conclave/pkg/a2a"
)

// AgentID is the bus id of the crawler agent.
const AgentID = "web_crawler_agent"

// Agent actions.
const (
	ActionCrawl     = "crawl"
	ActionCrawlURL  = "crawl_url"
	ActionCrawlMany = "crawl_many"
)

// Agent exposes a Crawler on the A2A bus.
type Agent struct {
	crawler *Crawler
}

func NewAgent(c *Crawler) *Agent {
	return &Agent{crawler: c}
}

func (a *Agent) AgentID() string { return AgentID }

func (a *Agent) Handle(ctx context.Context, req *a2a.Message) (any, error) {
	switch req.Action {
	case ActionCrawl, ActionCrawlURL:
		url := req.StringParam("url")
		if url == "" {
			return &Result{Status: StatusError, Error: "No URL provided"}, errors.New("No URL provided")
		}
		res, err := a.crawler.Crawl(ctx, url)
		if err != nil {
			return nil, err
		}
		if res.Status == StatusError {
			return res, errors.New(res.Error)
		}
		return res, nil

	case ActionCrawlMany:
		urls := stringList(req.Params["urls"])
		if len(urls) == 0 {
			return &Result{Status: StatusError, Error: "No URL provided"}, errors.New("No URL provided")
		}
		concurrency := 0
		if n, ok := req.Params["concurrency"].(float64); ok {
			concurrency = int(n)
		} else if n, ok := req.Params["concurrency"].(int); ok {
			concurrency = n
		}
		results, err := a.crawler.CrawlMany(ctx, urls, concurrency)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results, "count": len(results)}, nil
	}

	msg := fmt.Sprintf("Unknown action: %s", req.Action)
	return &Result{Status: StatusError, Error: msg}, errors.New(msg)
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if list != "" {
			return []string{list}
		}
	}
	return nil
}

var _ a2a.Agent = (*Agent)(nil)
