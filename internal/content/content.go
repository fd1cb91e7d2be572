// Package content retrieves page entries from the headless CMS delivery API.
package content

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/contentops/tailor/config"
	"github.com/contentops/tailor/internal/httpclient"
	"github.com/contentops/tailor/models"
)

// entry mirrors the delivery API shape: an entry is an ordered list of
// blocks, each carrying a title and rich-text copy plus a stable uid.
type entry struct {
	UID    string  `json:"uid"`
	Title  string  `json:"title"`
	URL    string  `json:"url"`
	Blocks []block `json:"blocks"`
}

type block struct {
	Block struct {
		Title    string `json:"title"`
		Copy     string `json:"copy"`
		Metadata struct {
			UID string `json:"uid"`
		} `json:"_metadata"`
	} `json:"block"`
}

// Client reads page content from the CMS.
type Client struct {
	config config.CMSConfig
	http   *httpclient.Client
	logger *log.Logger
}

func NewClient(cfg config.CMSConfig) *Client {
	return &Client{
		config: cfg,
		http:   httpclient.New(cfg.Timeout, cfg.MaxRetries, 0),
		logger: log.New(log.Writer(), "[CMS] ", log.LstdFlags),
	}
}

// FetchPage retrieves one page entry and flattens its blocks into the ordered
// field list the rewriter operates on. Field names carry the block uid so the
// rewritten values map back onto the same blocks when the page is rendered.
func (c *Client) FetchPage(ctx context.Context, pageID string) (models.PageContent, error) {
	endpoint := fmt.Sprintf("%s/content_types/%s/entries/%s?environment=%s",
		c.config.BaseURL, c.config.ContentType, url.PathEscape(pageID), url.QueryEscape(c.config.Environment))

	headers := map[string]string{
		"api_key":      c.config.APIKey,
		"access_token": c.config.DeliveryToken,
	}

	var resp struct {
		Entry entry `json:"entry"`
	}
	if err := c.http.GetJSON(ctx, endpoint, headers, &resp); err != nil {
		var serr *httpclient.StatusError
		if errors.As(err, &serr) {
			switch serr.StatusCode {
			case http.StatusNotFound, http.StatusUnprocessableEntity:
				return models.PageContent{}, fmt.Errorf("%w: page %q", models.ErrPageNotFound, pageID)
			}
		}
		return models.PageContent{}, fmt.Errorf("%w: fetching page %q: %v", models.ErrUpstreamUnavailable, pageID, err)
	}
	if resp.Entry.UID == "" && resp.Entry.Title == "" {
		return models.PageContent{}, fmt.Errorf("%w: page %q resolved to an empty entry", models.ErrPageNotFound, pageID)
	}

	content := models.PageContent{
		PageID: pageID,
		Title:  resp.Entry.Title,
		URL:    resp.Entry.URL,
	}
	for i, b := range resp.Entry.Blocks {
		uid := b.Block.Metadata.UID
		if uid == "" {
			uid = fmt.Sprintf("block_%d", i)
		}
		content.Fields = append(content.Fields,
			models.Field{Name: uid + "/title", Value: b.Block.Title},
			models.Field{Name: uid + "/copy", Value: b.Block.Copy},
		)
	}
	c.logger.Printf("fetched page %s (%d fields)", pageID, len(content.Fields))
	return content, nil
}
