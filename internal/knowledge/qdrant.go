package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int

	// Collection is the collection for all operations.
	Collection string

	// VectorSize is the embedding dimensionality. Must match the
	// embedding provider's output.
	VectorSize int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the retry budget for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry.
	// Default: 1s
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message size cap in bytes.
	// Default: 50MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "triaged_default"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// isTransientError reports whether an error should be retried.
// Network timeouts and temporary unavailability are transient; invalid
// arguments, not-found and permission errors are not.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// isDimensionError reports whether a Qdrant error indicates a vector
// dimensionality conflict with the existing collection.
func isDimensionError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	if st.Code() != grpccodes.InvalidArgument {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "dimension") || strings.Contains(msg, "vector size")
}

// QdrantStore implements Store on Qdrant's native gRPC client.
//
// gRPC transport (port 6334) avoids the HTTP layer's payload limits
// during bulk ingestion and gives binary protobuf encoding throughout.
type QdrantStore struct {
	client  *qdrant.Client
	config  QdrantConfig
	logger  *zap.Logger
	metrics *Metrics
}

// NewQdrantStore connects to Qdrant and verifies the server is healthy.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	store := &QdrantStore{
		client:  client,
		config:  config,
		logger:  logger,
		metrics: NewMetrics(logger),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check failed: %v", ErrUnavailable, err)
	}

	return store, nil
}

// retryOperation retries a transient-failing operation with exponential
// backoff, surfacing ErrUnavailable when the budget is exhausted.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if isDimensionError(err) {
			return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
		}
		if !isTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%w: %s failed after %d retries: %v", ErrUnavailable, name, s.config.MaxRetries, err)
		}
		s.logger.Warn("retrying qdrant operation",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s canceled: %v", ErrUnavailable, name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// EnsureCollection idempotently creates the configured collection with
// cosine distance.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	return s.retryOperation(ctx, "ensure_collection", func() error {
		exists, err := s.client.CollectionExists(ctx, s.config.Collection)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// Upsert stores chunks, replacing existing points by ID.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk) (int, error) {
	start := time.Now()
	var opErr error
	defer func() {
		s.metrics.RecordUpsert(ctx, "qdrant", len(chunks), time.Since(start), opErr)
	}()

	if len(chunks) == 0 {
		return 0, nil
	}

	// Validate the whole batch before writing anything. Qdrant only
	// accepts UUID-form point IDs, so non-UUID IDs are rejected here
	// instead of surfacing as an opaque server error.
	for i := range chunks {
		if err := chunks[i].Validate(s.config.VectorSize); err != nil {
			opErr = err
			return 0, err
		}
		if _, err := uuid.Parse(chunks[i].ID); err != nil {
			opErr = fmt.Errorf("%w: chunk id %q is not a UUID (qdrant point ids must be UUIDs)",
				ErrInvalidChunk, chunks[i].ID)
			return 0, opErr
		}
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunk.ID),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: chunkPayload(&chunk),
		}
	}

	opErr = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if opErr != nil {
		return 0, opErr
	}

	s.logger.Debug("upserted chunks",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(chunks)),
	)
	return len(chunks), nil
}

// Search performs filtered nearest-neighbor search.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]SimilarityResult, error) {
	start := time.Now()
	var opErr error
	defer func() {
		s.metrics.RecordSearch(ctx, "qdrant", time.Since(start), opErr)
	}()

	if limit <= 0 {
		opErr = fmt.Errorf("limit must be positive, got %d", limit)
		return nil, opErr
	}
	if len(vector) != s.config.VectorSize {
		opErr = fmt.Errorf("%w: query vector of length %d, collection expects %d",
			ErrSchemaMismatch, len(vector), s.config.VectorSize)
		return nil, opErr
	}

	var qdrantFilter *qdrant.Filter
	if len(filter.ContentTypes) > 0 {
		keywords := make([]string, len(filter.ContentTypes))
		for i, ct := range filter.ContentTypes {
			keywords[i] = string(ct)
		}
		qdrantFilter = &qdrant.Filter{
			Must: []*qdrant.Condition{{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "content_type",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keywords{
								Keywords: &qdrant.RepeatedStrings{Strings: keywords},
							},
						},
					},
				},
			}},
		}
	}

	var points []*qdrant.ScoredPoint
	opErr = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         qdrantFilter,
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if opErr != nil {
		return nil, opErr
	}

	results := make([]SimilarityResult, 0, len(points))
	for _, point := range points {
		results = append(results, SimilarityResult{
			Chunk: chunkFromPayload(pointID(point.Id), point.Payload),
			Score: point.Score,
		})
	}

	// Qdrant orders by score; the ID tie-break is ours.
	sortResults(results)
	return results, nil
}

// Get retrieves a chunk by ID, including its stored vector.
func (s *QdrantStore) Get(ctx context.Context, id string) (*Chunk, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	// Non-UUID IDs can never have been stored.
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var points []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "get", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.config.Collection,
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	chunk := chunkFromPayload(id, points[0].Payload)
	if vectors := points[0].Vectors.GetVector(); vectors != nil {
		chunk.Vector = vectors.GetData()
	}
	return &chunk, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// chunkPayload converts a chunk's payload to Qdrant values.
func chunkPayload(c *Chunk) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		"content_type": {Kind: &qdrant.Value_StringValue{StringValue: string(c.ContentType)}},
		"text":         {Kind: &qdrant.Value_StringValue{StringValue: c.Text}},
		"source_path":  {Kind: &qdrant.Value_StringValue{StringValue: c.SourcePath}},
		"language":     {Kind: &qdrant.Value_StringValue{StringValue: c.Language}},
		"mtime":        {Kind: &qdrant.Value_StringValue{StringValue: c.Metadata.MTime.UTC().Format(time.RFC3339Nano)}},
		"size":         {Kind: &qdrant.Value_IntegerValue{IntegerValue: c.Metadata.Size}},
		"complexity":   {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.Metadata.Complexity)}},
	}
	if c.TaskPayload != "" {
		payload["task"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: c.TaskPayload}}
	}
	if c.TaskID != "" {
		payload["task_id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: c.TaskID}}
	}
	return payload
}

// chunkFromPayload rebuilds a chunk from a Qdrant payload.
func chunkFromPayload(id string, payload map[string]*qdrant.Value) Chunk {
	get := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	getInt := func(key string) int64 {
		if v, ok := payload[key]; ok {
			return v.GetIntegerValue()
		}
		return 0
	}

	mtime, _ := time.Parse(time.RFC3339Nano, get("mtime"))
	return Chunk{
		ID:          id,
		ContentType: ContentType(get("content_type")),
		Text:        get("text"),
		SourcePath:  get("source_path"),
		Language:    get("language"),
		Metadata: Metadata{
			MTime:      mtime,
			Size:       getInt("size"),
			Complexity: int(getInt("complexity")),
		},
		TaskPayload: get("task"),
		TaskID:      get("task_id"),
	}
}

// pointID extracts the UUID form of a point ID.
func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
