package controller

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/dev-sys-do/sealboard/internal/pipeline"
	"github.com/dev-sys-do/sealboard/internal/query"
)

// Source is the read side of the controller API. *Client satisfies it.
type Source interface {
	FetchPipelines(ctx context.Context, verbose bool) ([]pipeline.Pipeline, error)
	FetchPipeline(ctx context.Context, id string, verbose bool) (*pipeline.Pipeline, error)
}

// PipelinesKey is the cache slot for the pipeline list.
func PipelinesKey(verbose bool) query.Key {
	return query.Key(fmt.Sprintf("pipelines?verbose=%t", verbose))
}

// PipelineKey is the cache slot for a single pipeline.
func PipelineKey(id string, verbose bool) query.Key {
	return query.Key(fmt.Sprintf("pipeline/%s?verbose=%t", id, verbose))
}

// PipelinesQuery binds the list endpoint to its slot on cache.
func PipelinesQuery(cache *query.Cache, src Source, verbose bool) *query.Query[[]pipeline.Pipeline] {
	return query.New(cache, PipelinesKey(verbose), func(ctx context.Context) ([]pipeline.Pipeline, error) {
		return src.FetchPipelines(ctx, verbose)
	})
}

// PipelineQuery binds the detail endpoint for id to its slot on cache.
func PipelineQuery(cache *query.Cache, src Source, id string, verbose bool) *query.Query[*pipeline.Pipeline] {
	return query.New(cache, PipelineKey(id, verbose), func(ctx context.Context) (*pipeline.Pipeline, error) {
		return src.FetchPipeline(ctx, id, verbose)
	})
}

// StatusCode returns the HTTP status carried by a protocol error, or 0.
func StatusCode(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == KindProtocol {
		return fe.StatusCode
	}
	return 0
}
