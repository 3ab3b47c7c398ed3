// Command labelcache-lambda is the AWS Lambda entry point for S3 upload
// notifications.
//
// Configuration comes from LABELCACHE_* environment variables, plus
// REKOGNITION_BUCKET_NAME and IDEMPOTENCY_TABLE_NAME. The result store
// defaults to DynamoDB.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/roach88/labelcache/internal/app"
	"github.com/roach88/labelcache/internal/config"
	"github.com/roach88/labelcache/internal/worker"
)

var lambdaDefaults = map[string]any{
	"store.backend": "dynamodb",
	"log.format":    "json",
}

// handler is built on the first invocation and reused by warm starts. A
// failed build is retried on the next invocation.
var handler = worker.NewLazy(func(ctx context.Context) (*worker.Handler, error) {
	cfg, err := config.Load("", config.WithDefaults(lambdaDefaults))
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	rt, err := app.Build(context.WithoutCancel(ctx), cfg, logger)
	if err != nil {
		return nil, err
	}
	return worker.NewHandler(rt.Coordinator, logger), nil
})

func handle(ctx context.Context, n events.S3Event) error {
	if err := handler.Handle(ctx, n); err != nil {
		slog.Error("notification failed", "error", err)
		return err
	}
	return nil
}

func main() {
	lambda.Start(handle)
}
