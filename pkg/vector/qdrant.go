package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/petrel-ai/petrel/pkg/config"
)

// QdrantStore implements Store against a Qdrant server over gRPC.
//
// Qdrant point IDs must be UUIDs or integers, so chunk IDs are mapped
// to deterministic UUIDs and the original ID travels in the payload.
type QdrantStore struct {
	client      *qdrant.Client
	fingerprint string
	dimension   int
}

const (
	payloadID       = "_id"
	payloadContent  = "content"
	payloadEmbedder = "_embedder"
)

// NewQdrantStore connects to Qdrant per config.
func NewQdrantStore(cfg *config.VectorConfig, fingerprint string, dimension int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.EnableTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantStore{
		client:      client,
		fingerprint: fingerprint,
		dimension:   dimension,
	}, nil
}

func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String())
}

func (s *QdrantStore) ensureCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (s *QdrantStore) Add(ctx context.Context, collection string, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("document count %d does not match vector count %d", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		payload := make(map[string]*qdrant.Value, len(doc.Metadata)+3)
		for key, value := range doc.Metadata {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
			}
			payload[key] = val
		}
		payload[payloadID] = qdrant.NewValueString(doc.ID)
		payload[payloadContent] = qdrant.NewValueString(doc.Content)
		payload[payloadEmbedder] = qdrant.NewValueString(s.fingerprint)

		points[i] = &qdrant.PointStruct{
			Id:      pointID(doc.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (s *QdrantStore) SimilaritySearch(ctx context.Context, collection string, vector []float32, k int) ([]Document, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}

	out := make([]Document, 0, len(points))
	for _, point := range points {
		doc := documentFromPayload(point.Payload)
		if embedder, ok := doc.Metadata[payloadEmbedder].(string); ok && embedder != s.fingerprint {
			return nil, fmt.Errorf("collection %q was embedded with %q, active embedder is %q",
				collection, embedder, s.fingerprint)
		}
		delete(doc.Metadata, payloadEmbedder)
		doc.Score = float64(point.Score)
		out = append(out, doc)
	}
	return out, nil
}

func (s *QdrantStore) AllChunks(ctx context.Context, collection string, limit int) ([]Document, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil, nil
	}

	scroll := &qdrant.ScrollPoints{
		CollectionName: collection,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if limit > 0 {
		scroll.Limit = qdrant.PtrOf(uint32(limit))
	}

	points, err := s.client.Scroll(ctx, scroll)
	if err != nil {
		return nil, fmt.Errorf("failed to scroll points: %w", err)
	}

	out := make([]Document, 0, len(points))
	for _, point := range points {
		doc := documentFromPayload(point.Payload)
		delete(doc.Metadata, payloadEmbedder)
		out = append(out, doc)
	}
	return out, nil
}

func (s *QdrantStore) DeleteByMetadata(ctx context.Context, collection string, filter map[string]string) error {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		conditions = append(conditions, qdrant.NewMatch(key, value))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: conditions,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points by metadata: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return names, nil
}

func (s *QdrantStore) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil, nil
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: collection})
	if err != nil {
		return nil, fmt.Errorf("failed to count points: %w", err)
	}
	return &CollectionInfo{
		Name:     collection,
		Count:    int(count),
		Embedder: s.fingerprint,
	}, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func documentFromPayload(payload map[string]*qdrant.Value) Document {
	doc := Document{Metadata: make(map[string]any, len(payload))}
	for key, value := range payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			switch key {
			case payloadID:
				doc.ID = v.StringValue
			case payloadContent:
				doc.Content = v.StringValue
			default:
				doc.Metadata[key] = v.StringValue
			}
		case *qdrant.Value_IntegerValue:
			doc.Metadata[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			doc.Metadata[key] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			doc.Metadata[key] = v.BoolValue
		default:
			doc.Metadata[key] = value
		}
	}
	return doc
}

var _ Store = (*QdrantStore)(nil)
