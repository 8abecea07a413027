package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spoolworks/spool/internal/config"
	"github.com/spoolworks/spool/pkg/adapter"
	"github.com/spoolworks/spool/pkg/adapter/dir"
	adapters3 "github.com/spoolworks/spool/pkg/adapter/s3"
	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/consumer"
	"github.com/spoolworks/spool/pkg/consumers"
	"github.com/spoolworks/spool/pkg/state"
)

// buildRegistry creates the codec/registry pair with every built-in
// consumer wired in.
func buildRegistry(logger *zap.Logger) (*codec.Codec, *consumer.Registry, error) {
	c := codec.New()
	r := consumer.NewRegistry(logger)
	if err := consumers.RegisterAll(c, r); err != nil {
		return nil, nil, fmt.Errorf("register consumers: %w", err)
	}
	return c, r, nil
}

// newAdapter constructs the storage adapter selected by the configuration.
func newAdapter(ctx context.Context, cfg *config.Config, cdc *codec.Codec, logger *zap.Logger) (adapter.Adapter, error) {
	switch cfg.Adapter.Type {
	case "dir":
		return dir.New(dir.Config{
			BaseDir:      cfg.Adapter.Dir.BaseDir,
			Pattern:      cfg.Adapter.Dir.Pattern,
			OutputSuffix: cfg.Adapter.Dir.OutputSuffix,
		}, cdc, logger)
	case "s3":
		return adapters3.New(ctx, adapters3.Config{
			Bucket:            cfg.Adapter.S3.Bucket,
			Prefix:            cfg.Adapter.S3.Prefix,
			Region:            cfg.Adapter.S3.Region,
			Endpoint:          cfg.Adapter.S3.Endpoint,
			Profile:           cfg.Adapter.S3.Profile,
			AccessKeyID:       cfg.Adapter.S3.AccessKeyID,
			SecretAccessKey:   cfg.Adapter.S3.SecretAccessKey,
			ForcePathStyle:    cfg.Adapter.S3.ForcePathStyle,
			Pattern:           cfg.Adapter.S3.Pattern,
			OutputSuffix:      cfg.Adapter.S3.OutputSuffix,
			RequestsPerSecond: cfg.Adapter.S3.RequestsPerSecond,
		}, cdc, logger)
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Adapter.Type)
	}
}

// jobsByState lists the identifiers at every lifecycle state using a fresh
// adapter, so callers never share the scheduler's state table.
func jobsByState(ctx context.Context, cfg *config.Config, logger *zap.Logger) (map[state.State][]string, error) {
	cdc := codec.New()
	a, err := newAdapter(ctx, cfg, cdc, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close() }()

	byState := make(map[state.State][]string, len(state.All))
	for _, st := range state.All {
		ids, err := a.PollState(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", st, err)
		}
		byState[st] = ids
	}
	return byState, nil
}
