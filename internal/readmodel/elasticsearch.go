package readmodel

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"example.com/backstage/feed/internal/models"
)

// DocumentIndexer stores documents by id
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, id string, doc interface{}) error
}

// ElasticsearchSink indexes each event under its event id. Re-applying an event
// overwrites the same document.
type ElasticsearchSink struct {
	indexer DocumentIndexer
	now     func() time.Time
}

// NewElasticsearchSink creates a sink backed by indexer
func NewElasticsearchSink(indexer DocumentIndexer) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, now: time.Now}
}

// Apply implements projector.Sink
func (s *ElasticsearchSink) Apply(ctx context.Context, event models.Event) error {
	if err := s.indexer.IndexDocument(ctx, event.ID, NewDocument(event, s.now())); err != nil {
		return errors.Wrapf(err, "failed to index event %s", event.ID)
	}
	return nil
}
