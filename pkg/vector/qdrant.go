package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/majordomohq/majordomo/pkg/config"
)

// QdrantIndex talks to a Qdrant server over gRPC. Collections are
// created lazily on first upsert with cosine distance and the vector
// size inferred from the first entry.
//
// Qdrant point IDs must be UUIDs or integers; callers use UUID-shaped
// IDs so entries stay addressable across backends.
type QdrantIndex struct {
	client *qdrant.Client
	cfg    config.QdrantConfig
}

// NewQdrantIndex creates a Qdrant-backed index. The connection is
// lazy; a misconfigured server surfaces on first use.
func NewQdrantIndex(cfg config.QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantIndex{client: client, cfg: cfg}, nil
}

// Upsert adds or replaces an entry, creating the collection if needed.
func (x *QdrantIndex) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	exists, err := x.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", collection, err)
	}

	if !exists {
		err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(len(vec)),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// Another writer may have won the race.
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("create collection %q: %w", collection, err)
		}
	}

	payload := make(map[string]*qdrant.Value, len(metadata))
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("convert metadata %q: %w", key, err)
		}
		payload[key] = val
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vec...),
		Payload: payload,
	}

	_, err = x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("upsert %q: %w", id, err)
	}
	return nil
}

// Search returns the topK nearest entries by cosine similarity.
func (x *QdrantIndex) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}

	exists, err := x.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("check collection %q: %w", collection, err)
	}
	if !exists {
		return nil, nil
	}

	searchResult, err := x.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", collection, err)
	}

	return convertScoredPoints(searchResult.Result), nil
}

// Delete removes a single entry by ID.
func (x *QdrantIndex) Delete(ctx context.Context, collection, id string) error {
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewID(id)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", id, err)
	}
	return nil
}

// DeleteCollection drops a collection and its entries.
func (x *QdrantIndex) DeleteCollection(ctx context.Context, collection string) error {
	if err := x.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("delete collection %q: %w", collection, err)
	}
	return nil
}

// Count reports how many entries a collection holds. A collection that
// does not exist yet counts as empty.
func (x *QdrantIndex) Count(ctx context.Context, collection string) (int, error) {
	exists, err := x.client.CollectionExists(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("check collection %q: %w", collection, err)
	}
	if !exists {
		return 0, nil
	}

	n, err := x.client.Count(ctx, &qdrant.CountPoints{CollectionName: collection})
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", collection, err)
	}
	return int(n), nil
}

// Name returns the backend name.
func (x *QdrantIndex) Name() string {
	return "qdrant"
}

// Close closes the gRPC connection.
func (x *QdrantIndex) Close() error {
	return x.client.Close()
}

// convertScoredPoints maps Qdrant results onto Result values. Payload
// values keep their scalar types; nested kinds pass through as-is.
func convertScoredPoints(points []*qdrant.ScoredPoint) []Result {
	results := make([]Result, 0, len(points))

	for _, point := range points {
		var id string
		if point.Id != nil && point.Id.PointIdOptions != nil {
			switch idType := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = idType.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", idType.Num)
			}
		}

		var vec []float32
		if point.Vectors != nil {
			if vectorData := point.Vectors.GetVector(); vectorData != nil {
				switch v := vectorData.Vector.(type) {
				case *qdrant.VectorOutput_Dense:
					if v.Dense != nil {
						vec = v.Dense.Data
					}
				}
			}
		}

		metadata := make(map[string]any, len(point.Payload))
		for key, value := range point.Payload {
			switch v := value.Kind.(type) {
			case *qdrant.Value_StringValue:
				metadata[key] = v.StringValue
			case *qdrant.Value_IntegerValue:
				metadata[key] = v.IntegerValue
			case *qdrant.Value_DoubleValue:
				metadata[key] = v.DoubleValue
			case *qdrant.Value_BoolValue:
				metadata[key] = v.BoolValue
			default:
				metadata[key] = value
			}
		}

		content := ""
		if c, ok := metadata["content"].(string); ok {
			content = c
		}

		results = append(results, Result{
			ID:       id,
			Content:  content,
			Vector:   vec,
			Metadata: metadata,
			Score:    point.Score,
		})
	}

	return results
}

var _ Index = (*QdrantIndex)(nil)
