// Package index mirrors extracted articles into Elasticsearch for search.
// Indexing is optional; the pipeline runs unchanged without it.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/logger"
)

const defaultIndexName = "articles"

// articleDocument is the indexed shape of an article.
type articleDocument struct {
	URL              string     `json:"url"`
	Title            string     `json:"title"`
	Text             string     `json:"text,omitempty"`
	Authors          []string   `json:"authors,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	Status           string     `json:"status"`
	ExtractionMethod string     `json:"extraction_method"`
	ExtractedAt      time.Time  `json:"extracted_at"`
}

// Indexer writes article documents to an Elasticsearch index.
type Indexer struct {
	client    *elasticsearch.Client
	indexName string
	log       logger.Interface
}

// New connects to Elasticsearch at the given address.
func New(address string, log logger.Interface) (*Indexer, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{address},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Indexer{client: client, indexName: defaultIndexName, log: log}, nil
}

// IndexArticle upserts one article document keyed by the article row ID.
func (i *Indexer) IndexArticle(ctx context.Context, article *domain.Article) error {
	doc := articleDocument{
		URL:              article.URL,
		Title:            article.Title,
		Authors:          article.Authors,
		PublishedAt:      article.PublishedAt,
		Status:           article.Status,
		ExtractionMethod: article.ExtractionMethod,
		ExtractedAt:      article.ExtractedAt,
	}
	if article.Text != nil {
		doc.Text = *article.Text
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal article document: %w", err)
	}

	resp, err := i.client.Index(
		i.indexName,
		bytes.NewReader(payload),
		i.client.Index.WithDocumentID(article.ID),
		i.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index article %s: %w", article.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.IsError() {
		return fmt.Errorf("index article %s: %s", article.ID, resp.Status())
	}

	i.log.Debug("article indexed", "article_id", article.ID, "index", i.indexName)

	return nil
}
