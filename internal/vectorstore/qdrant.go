package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadRefField and payloadKindField carry the fields Qdrant's point
// id (a UUID or unsigned int) cannot: the logical ref id and kind a
// point represents.
const (
	payloadRefField  = "_ref_id"
	payloadKindField = "_kind"
	payloadDocField  = "_document_id"
)

// Qdrant is a VectorStore backed by a single Qdrant collection shared
// across projects and kinds, scoped by payload filters on project_id
// and kind. Point ids are deterministic UUIDv5s derived from the
// caller's id, since Qdrant only accepts UUIDs or unsigned integers.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrant connects to dsn (host[:port], gRPC scheme) and ensures
// collection exists with the given vector dimension and cosine metric.
func NewQdrant(ctx context.Context, dsn, collection string, dimension int) (*Qdrant, error) {
	if collection == "" {
		return nil, fmt.Errorf("vectorstore: collection name is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("vectorstore: dimension must be > 0")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse Qdrant DSN: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid port in Qdrant DSN: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create Qdrant client: %w", err)
	}
	q := &Qdrant{client: client, collection: collection, dimension: dimension}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("vectorstore: ensure collection: %w", err)
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := qdrantRetry(ctx, func() (bool, error) { return q.client.CollectionExists(ctx, q.collection) })
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return qdrantRetryErr(ctx, func() error {
		return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// qdrantRetry wraps a single Qdrant RPC with bounded, jittered
// exponential backoff, matching the treatment graphstore.Postgres and
// extractcache.Postgres give their own storage RPCs.
func qdrantRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) { return op() }, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

// qdrantRetryErr is qdrantRetry for RPCs whose result the caller
// discards, avoiding a type parameter tied to a specific client
// response type.
func qdrantRetryErr(ctx context.Context, op func() error) error {
	_, err := qdrantRetry(ctx, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

func pointID(projectID, id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(projectID+"\x00"+id)).String())
}

// payloadMetaPrefix namespaces caller-supplied metadata keys so they
// never collide with the reserved project_id/_kind/_ref_id fields.
const payloadMetaPrefix = "meta_"

func recordPayload(r Record) map[string]any {
	payload := map[string]any{
		"project_id":     r.ProjectID,
		payloadKindField: string(r.Kind),
		payloadRefField:  r.RefID,
	}
	if r.DocumentID != "" {
		payload[payloadDocField] = r.DocumentID
	}
	for k, v := range r.Metadata {
		payload[payloadMetaPrefix+k] = v
	}
	return payload
}

func (q *Qdrant) Upsert(ctx context.Context, r Record) error {
	vec := make([]float32, len(r.Vector))
	copy(vec, r.Vector)
	return qdrantRetryErr(ctx, func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points: []*qdrant.PointStruct{{
				Id:      pointID(r.ProjectID, r.ID),
				Vectors: qdrant.NewVectorsDense(vec),
				Payload: qdrant.NewValueMap(recordPayload(r)),
			}},
		})
		return err
	})
}

func (q *Qdrant) UpsertBatch(ctx context.Context, rs []Record) error {
	points := make([]*qdrant.PointStruct, 0, len(rs))
	for _, r := range rs {
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(r.ProjectID, r.ID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(recordPayload(r)),
		})
	}
	return qdrantRetryErr(ctx, func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
		return err
	})
}

func (q *Qdrant) Delete(ctx context.Context, projectID, id string) error {
	return qdrantRetryErr(ctx, func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.collection,
			Points:         qdrant.NewPointsSelector(pointID(projectID, id)),
		})
		return err
	})
}

func (q *Qdrant) DeleteBatch(ctx context.Context, projectID string, ids []string) error {
	pts := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pts = append(pts, pointID(projectID, id))
	}
	return qdrantRetryErr(ctx, func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.collection,
			Points:         qdrant.NewPointsSelector(pts...),
		})
		return err
	})
}

func (q *Qdrant) Search(ctx context.Context, projectID string, kind Kind, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	limit := uint64(k)
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("project_id", projectID),
			qdrant.NewMatch(payloadKindField, string(kind)),
		},
	}
	hits, err := qdrantRetry(ctx, func() ([]*qdrant.ScoredPoint, error) {
		return q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.collection,
			Query:          qdrant.NewQueryDense(vec),
			Limit:          &limit,
			Filter:         filter,
			WithPayload:    qdrant.NewWithPayload(true),
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		var refID string
		var meta map[string]string
		if hit.Payload != nil {
			if v, ok := hit.Payload[payloadRefField]; ok {
				refID = v.GetStringValue()
			}
			for k, v := range hit.Payload {
				if name, ok := strings.CutPrefix(k, payloadMetaPrefix); ok {
					if meta == nil {
						meta = make(map[string]string, len(hit.Payload))
					}
					meta[name] = v.GetStringValue()
				}
			}
		}
		out = append(out, Result{
			ID:       hit.Id.GetUuid(),
			RefID:    refID,
			Kind:     kind,
			Score:    float64(hit.Score),
			Metadata: meta,
		})
	}
	return out, nil
}

// ChunkIDsByDocument scrolls the collection in pages for every chunk
// point belonging to documentID, following Qdrant's offset-based
// pagination until a page comes back short of the page size.
func (q *Qdrant) ChunkIDsByDocument(ctx context.Context, projectID, documentID string) ([]string, error) {
	const pageSize = uint32(256)
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("project_id", projectID),
			qdrant.NewMatch(payloadKindField, string(KindChunk)),
			qdrant.NewMatch(payloadDocField, documentID),
		},
	}

	var out []string
	var offset *qdrant.PointId
	for {
		points, err := qdrantRetry(ctx, func() ([]*qdrant.RetrievedPoint, error) {
			return q.client.Scroll(ctx, &qdrant.ScrollPoints{
				CollectionName: q.collection,
				Filter:         filter,
				Limit:          &pageSize,
				Offset:         offset,
				WithPayload:    qdrant.NewWithPayload(true),
			})
		})
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			if p.Payload == nil {
				continue
			}
			if v, ok := p.Payload[payloadRefField]; ok {
				out = append(out, v.GetStringValue())
			}
		}
		if len(points) < int(pageSize) {
			break
		}
		offset = points[len(points)-1].Id
	}
	return out, nil
}

var _ VectorStore = (*Qdrant)(nil)
