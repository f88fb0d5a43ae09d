package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/commerce/config"
	"example.com/commerce/internal/domain"
)

// IndexName is the unprefixed name of the audit index
const IndexName = "events"

const mapping = `{
  "mappings": {
    "properties": {
      "eventId":       {"type": "keyword"},
      "eventType":     {"type": "keyword"},
      "aggregateId":   {"type": "keyword"},
      "aggregateType": {"type": "keyword"},
      "data":          {"type": "object", "enabled": false},
      "metadata": {
        "properties": {
          "timestamp":     {"type": "date"},
          "version":       {"type": "integer"},
          "userId":        {"type": "keyword"},
          "correlationId": {"type": "keyword"},
          "causationId":   {"type": "keyword"}
        }
      },
      "indexedAt": {"type": "date"}
    }
  }
}`

// Indexer writes every published event into a searchable audit index
type Indexer struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticsearchClient creates a new Elasticsearch client and checks the connection
func NewElasticsearchClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	res, err := client.Info()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to Elasticsearch")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.Errorf("Elasticsearch returned error: %s", res.String())
	}

	log.Info().Msg("Successfully connected to Elasticsearch")
	return client, nil
}

// NewIndexer creates an indexer writing to the prefixed audit index
func NewIndexer(client *elasticsearch.Client, cfg config.ElasticsearchConfig) *Indexer {
	return &Indexer{client: client, index: config.FormatIndex(cfg, IndexName)}
}

// Index returns the full index name
func (i *Indexer) Index() string { return i.index }

// EnsureIndex creates the audit index with its mapping when missing
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{i.index}}.Do(ctx, i.client)
	if err != nil {
		return errors.Wrapf(err, "failed to check if index %s exists", i.index)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	log.Info().Str("index", i.index).Msg("Creating index")
	res, err = esapi.IndicesCreateRequest{
		Index: i.index,
		Body:  strings.NewReader(mapping),
	}.Do(ctx, i.client)
	if err != nil {
		return errors.Wrapf(err, "failed to create index %s", i.index)
	}
	defer res.Body.Close()

	// Another worker may have created it first
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return errors.Errorf("failed to create index %s: %s", i.index, res.String())
	}
	return nil
}

// IndexEvent stores evt under its event id, so redeliveries overwrite
// the same document.
func (i *Indexer) IndexEvent(ctx context.Context, evt domain.Event) error {
	doc, err := evt.ToMap()
	if err != nil {
		return errors.Wrap(err, "failed to convert event to document")
	}
	doc["indexedAt"] = time.Now().UTC()

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event document")
	}

	res, err := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: evt.EventID,
		Body:       bytes.NewReader(body),
	}.Do(ctx, i.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("Elasticsearch index error: %s", res.String())
	}

	log.Debug().Str("eventId", evt.EventID).Str("eventType", evt.EventType).Msg("Event indexed")
	return nil
}

// Handle is IndexEvent in the shape of a bus event handler
func (i *Indexer) Handle(ctx context.Context, evt domain.Event) error {
	return i.IndexEvent(ctx, evt)
}

// History returns up to size indexed events of one aggregate, oldest first.
func (i *Indexer) History(ctx context.Context, aggregateID string, size int) ([]map[string]interface{}, error) {
	if size <= 0 {
		size = 100
	}
	query := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"term": map[string]interface{}{"aggregateId": aggregateID},
		},
		"sort": []interface{}{
			map[string]interface{}{"metadata.version": "asc"},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	res, err := esapi.SearchRequest{
		Index: []string{i.index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, i.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.Errorf("Elasticsearch search error: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	docs := make([]map[string]interface{}, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}
