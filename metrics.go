package confstack

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/btt-go/confstack"

var (
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	commitFailures metric.Int64Counter
)

func init() {
	meter := otel.Meter(meterName)

	var err error

	cacheHits, err = meter.Int64Counter(
		"confstack.cache.hits",
		metric.WithDescription("Number of reads served from the in-process cache"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.hits counter: %v", err)
	}

	cacheMisses, err = meter.Int64Counter(
		"confstack.cache.misses",
		metric.WithDescription("Number of reads that fell through to the datastore"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.misses counter: %v", err)
	}

	commitFailures, err = meter.Int64Counter(
		"confstack.datastore.commit_failures",
		metric.WithDescription("Number of datastore transactions that failed to commit"),
	)
	if err != nil {
		log.Fatalf("failed to create datastore.commit_failures counter: %v", err)
	}
}

func recordCacheHit(ctx context.Context, namespace string) {
	cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}

func recordCacheMiss(ctx context.Context, namespace string) {
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}

func recordCommitFailure(ctx context.Context, kind string) {
	commitFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
