package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spoolworks/spool/pkg/adapter"
	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/state"
)

// api is the slice of the S3 client surface the adapter uses. *s3.Client
// satisfies it; tests substitute a fake.
type api interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Adapter implements adapter.Adapter over an S3 bucket.
//
// Key layout under the configured prefix:
//
//	<prefix>/planned/<id>
//	<prefix>/active/<id>
//	<prefix>/completed/<id>
//	<prefix>/completed/<output name>
//
// State transitions are copy-then-delete pairs. S3 has no rename, so a
// transition is not atomic: a crash between the copy and the delete leaves
// the object in both locations, which the next poll surfaces as a duplicate
// identifier for an operator to resolve.
type Adapter struct {
	client  api
	bucket  string
	prefix  string
	pattern string
	outSfx  string
	maxKeys int
	limiter *rate.Limiter
	codec   *codec.Codec
	logger  *zap.Logger

	states map[string]state.State
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an S3 adapter with the given configuration.
//
// The adapter uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config, cdc *codec.Codec, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &adapter.Error{Op: "New", Adapter: adapter.TypeS3, Err: err}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg, cdc, logger)
}

// NewWithClient creates an S3 adapter over an already constructed client.
// Useful for tests and for callers that manage their own AWS configuration.
func NewWithClient(client api, cfg Config, cdc *codec.Codec, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cdc == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pattern := cfg.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	outSfx := cfg.OutputSuffix
	if outSfx == "" {
		outSfx = DefaultOutputSuffix
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Adapter{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		pattern: pattern,
		outSfx:  outSfx,
		maxKeys: clampMaxKeys(cfg.MaxKeys),
		limiter: limiter,
		codec:   cdc,
		logger:  logger.With(zap.String("component", "s3-adapter")),
		states:  make(map[string]state.State),
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	// Only apply an explicit region if one was set; let the SDK resolve
	// from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// statePrefix returns the key prefix backing st, always ending in "/".
func (a *Adapter) statePrefix(st state.State) string {
	if a.prefix == "" {
		return st.String() + "/"
	}
	return a.prefix + "/" + st.String() + "/"
}

// stateKey returns the object key for id at st.
func (a *Adapter) stateKey(st state.State, id string) string {
	return a.statePrefix(st) + id
}

// OutputName returns the sidecar object name for a job identifier.
func (a *Adapter) OutputName(id string) string {
	return strings.TrimSuffix(id, path.Ext(id)) + a.outSfx
}

// wait applies the request rate limit, if configured.
func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

// Poll is shorthand for PollState at Planned.
func (a *Adapter) Poll(ctx context.Context) ([]string, error) {
	return a.PollState(ctx, state.Planned)
}

// PollState lists the location backing st, registers newly seen
// identifiers, and returns all identifiers tracked at st in sorted order.
func (a *Adapter) PollState(ctx context.Context, st state.State) ([]string, error) {
	if !st.Valid() {
		return nil, a.wrapErr("PollState", "", fmt.Errorf("unknown state %q", st))
	}

	prefix := a.statePrefix(st)
	var token *string
	for {
		if err := a.wait(ctx); err != nil {
			return nil, a.wrapErr("PollState", "", err)
		}

		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			MaxKeys:           aws.Int32(int32(a.maxKeys)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, a.wrapErr("PollState", "", err)
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			id := strings.TrimPrefix(key, prefix)
			// Skip the prefix marker itself and nested keys.
			if id == "" || strings.Contains(id, "/") {
				continue
			}
			matched, err := doublestar.Match(a.pattern, id)
			if err != nil || !matched {
				continue
			}

			claimed, known := a.states[id]
			if !known {
				a.states[id] = st
				a.logger.Debug("identifier registered",
					zap.String("id", id),
					zap.String("state", st.String()))
				continue
			}
			if claimed != st {
				return nil, &adapter.Error{
					Op:      "PollState",
					Adapter: adapter.TypeS3,
					ID:      id,
					Err: fmt.Errorf("%w: claimed %s, found in %s",
						adapter.ErrDuplicateIdentifier, claimed, st),
				}
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	var ids []string
	for id, cur := range a.states {
		if cur == st {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetConfig fetches and decodes the job document for a Planned identifier.
//
// A body that fails to decode is reported at warn level and yields
// (nil, nil): the object stays in place for the next poll.
func (a *Adapter) GetConfig(ctx context.Context, id string) (*codec.Config, error) {
	cur, known := a.states[id]
	if !known {
		return nil, a.wrapErr("GetConfig", id, adapter.ErrUnknownIdentifier)
	}
	if cur != state.Planned {
		return nil, a.wrapErr("GetConfig", id, adapter.ErrNotPlanned)
	}

	data, err := a.getObject(ctx, a.stateKey(state.Planned, id))
	if err != nil {
		return nil, a.wrapErr("GetConfig", id, err)
	}

	cfg, err := a.codec.Decode(data)
	if err != nil {
		a.logger.Warn("failed to decode job document",
			zap.String("id", id),
			zap.Error(err))
		return nil, nil
	}
	return cfg, nil
}

// ChangeState performs a validated transition for id.
func (a *Adapter) ChangeState(ctx context.Context, id string, next state.State) error {
	return a.changeState(ctx, id, next, true, "ChangeState")
}

// ForceState performs a transition for id without lifecycle validation.
func (a *Adapter) ForceState(ctx context.Context, id string, next state.State) error {
	return a.changeState(ctx, id, next, false, "ForceState")
}

func (a *Adapter) changeState(ctx context.Context, id string, next state.State, validate bool, op string) error {
	cur, known := a.states[id]
	if !known {
		return a.wrapErr(op, id, adapter.ErrUnknownIdentifier)
	}
	if !next.Valid() {
		return a.wrapErr(op, id, fmt.Errorf("unknown state %q", next))
	}
	if validate && !cur.CanTransitionTo(next) {
		return &adapter.TransitionError{ID: id, From: cur, To: next}
	}

	if cur == state.Active && next == state.Completed {
		if err := a.relocateSidecar(ctx, op, id); err != nil {
			return err
		}
	}

	if err := a.moveObject(ctx, a.stateKey(cur, id), a.stateKey(next, id)); err != nil {
		if isNotFound(err) {
			return a.wrapErr(op, id, adapter.ErrSourceMissing)
		}
		return a.wrapErr(op, id, err)
	}
	a.states[id] = next

	a.logger.Debug("state changed",
		zap.String("id", id),
		zap.String("from", cur.String()),
		zap.String("to", next.String()))
	return nil
}

// moveObject copies src to dst and deletes src.
func (a *Adapter) moveObject(ctx context.Context, src, dst string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(a.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(url.PathEscape(a.bucket + "/" + src)),
	})
	if err != nil {
		return err
	}

	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(src),
	})
	return err
}

// relocateSidecar merges a sidecar written beside the active object into
// the completed location.
func (a *Adapter) relocateSidecar(ctx context.Context, op, id string) error {
	name := a.OutputName(id)
	src := a.stateKey(state.Active, name)

	data, err := a.getObject(ctx, src)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return a.wrapErr(op, id, err)
	}

	if err := a.appendObject(ctx, a.stateKey(state.Completed, name), data); err != nil {
		return a.wrapErr(op, id, err)
	}

	if err := a.wait(ctx); err != nil {
		return a.wrapErr(op, id, err)
	}
	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(src),
	}); err != nil {
		return a.wrapErr(op, id, err)
	}
	return nil
}

// WriteOutput appends data to the job's output sidecar in the completed
// location.
func (a *Adapter) WriteOutput(ctx context.Context, id string, data []byte) error {
	if _, known := a.states[id]; !known {
		return a.wrapErr("WriteOutput", id, adapter.ErrUnknownIdentifier)
	}
	key := a.stateKey(state.Completed, a.OutputName(id))
	if err := a.appendObject(ctx, key, data); err != nil {
		return a.wrapErr("WriteOutput", id, err)
	}
	return nil
}

// appendObject implements append as read-modify-write. A single scheduler
// owns the location, so there is no concurrent writer to race with.
func (a *Adapter) appendObject(ctx context.Context, key string, data []byte) error {
	existing, err := a.getObject(ctx, key)
	if err != nil && !isNotFound(err) {
		return err
	}

	body := existing
	body = append(body, data...)

	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	return err
}

// getObject fetches a whole object body.
func (a *Adapter) getObject(ctx context.Context, key string) ([]byte, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Close releases adapter resources. The S3 client needs no explicit
// cleanup, but this satisfies the interface.
func (a *Adapter) Close() error {
	return nil
}

func (a *Adapter) wrapErr(op, id string, err error) error {
	return &adapter.Error{Op: op, Adapter: adapter.TypeS3, ID: id, Err: mapErr(err)}
}

// isNotFound reports whether err is any flavor of S3 missing-object error.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// mapErr converts S3 errors to adapter sentinel errors where a specific
// cause can be identified; everything else passes through unchanged.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %v", adapter.ErrSourceMissing, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", adapter.ErrAccessDenied, err)
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			return fmt.Errorf("%w: %v", adapter.ErrThrottled, err)
		case "ServiceUnavailable", "InternalError":
			return fmt.Errorf("%w: %v", adapter.ErrStoreUnavailable, err)
		}
	}
	return err
}
