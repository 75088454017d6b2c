package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantIndex is a vector index backed by a remote Qdrant collection,
// reached over gRPC. Qdrant persists collection state server-side; the
// optional metaPath sidecar only records the dimensions/kind this process
// configured it with, for local Load-time sanity checks.
type QdrantIndex struct {
	addr       string
	collection string
	dims       int
	kind       string
	metaPath   string

	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

func NewQdrantIndex(ctx context.Context, addr, collection string, dims int, kind, metaPath string) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("rag: dial qdrant %s: %w", addr, err)
	}
	idx := &QdrantIndex{
		addr:        addr,
		collection:  collection,
		dims:        dims,
		kind:        kind,
		metaPath:    metaPath,
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}
	if err := idx.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *QdrantIndex) ensureCollection(ctx context.Context) error {
	list, err := idx.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("rag: list qdrant collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == idx.collection {
			return nil
		}
	}
	_, err = idx.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(idx.dims),
					Distance: pb.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("rag: create qdrant collection %s: %w", idx.collection, err)
	}
	return nil
}

func (idx *QdrantIndex) Dimensions() int   { return idx.dims }
func (idx *QdrantIndex) IndexKind() string { return idx.kind }
func (idx *QdrantIndex) Close() error      { return idx.conn.Close() }

func (idx *QdrantIndex) Add(ctx context.Context, records []Record) error {
	points := make([]*pb.PointStruct, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != idx.dims {
			slog.Warn("rag: embedding dimension mismatch, skipping", "id", r.ID, "got", len(r.Embedding), "want", idx.dims)
			continue
		}
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("rag: marshal metadata for %s: %w", r.ID, err)
		}
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}},
			},
			Payload: map[string]*pb.Value{
				"text":     {Kind: &pb.Value_StringValue{StringValue: r.Text}},
				"metadata": {Kind: &pb.Value_StringValue{StringValue: string(metaJSON)}},
			},
		})
	}
	if len(points) == 0 {
		return nil
	}
	wait := true
	_, err := idx.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: idx.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("rag: upsert %d points: %w", len(points), err)
	}
	return nil
}

func (idx *QdrantIndex) SimilaritySearch(ctx context.Context, queryVec []float32, k int, filter func(SearchResult) bool) ([]SearchResult, error) {
	if len(queryVec) != idx.dims {
		return nil, fmt.Errorf("rag: query embedding dimension mismatch: got %d want %d", len(queryVec), idx.dims)
	}
	fetch := uint64(k)
	if filter != nil {
		fetch = uint64(k * 2)
	}
	resp, err := idx.points.Search(ctx, &pb.SearchPoints{
		CollectionName: idx.collection,
		Vector:         queryVec,
		Limit:          fetch,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant search: %w", err)
	}
	var out []SearchResult
	for _, sp := range resp.GetResult() {
		result := pointToResult(sp.GetId(), sp.GetPayload())
		distance := 1.0
		if sp.GetScore() > 0 {
			distance = 1.0/float64(sp.GetScore()) - 1.0
		}
		result.Distance = distance
		result.Similarity = float64(sp.GetScore())
		if filter != nil && !filter(result) {
			continue
		}
		out = append(out, result)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// AllRecords scrolls the full collection in one page. Collections indexed
// by this system are batch-sized document corpora, not web-scale, so a
// single large-limit scroll is sufficient rather than paging by offset.
func (idx *QdrantIndex) AllRecords(ctx context.Context) ([]Record, error) {
	resp, err := idx.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: idx.collection,
		Limit:          ptrUint32(1_000_000),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant scroll: %w", err)
	}
	out := make([]Record, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		r := pointToResult(p.GetId(), p.GetPayload())
		rec := Record{ID: r.ID, Text: r.Text, Metadata: r.Metadata}
		if vecs := p.GetVectors(); vecs != nil {
			if v := vecs.GetVector(); v != nil {
				rec.Embedding = v.GetData()
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (idx *QdrantIndex) Stats(ctx context.Context) (Stats, error) {
	info, err := idx.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: idx.collection})
	if err != nil {
		return Stats{}, fmt.Errorf("rag: qdrant collection info: %w", err)
	}
	return Stats{
		IndexKind:     idx.kind,
		Dimensions:    idx.dims,
		DocumentCount: int(info.GetResult().GetPointsCount()),
	}, nil
}

func (idx *QdrantIndex) Save(ctx context.Context) error {
	if idx.metaPath == "" {
		return nil
	}
	stats, err := idx.Stats(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(idx.metaPath, data, 0o644)
}

func (idx *QdrantIndex) Load(ctx context.Context) error {
	if idx.metaPath == "" {
		return nil
	}
	data, err := os.ReadFile(idx.metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return err
	}
	if stats.Dimensions != 0 && stats.Dimensions != idx.dims {
		return fmt.Errorf("rag: index dimension mismatch: file has %d, configured %d", stats.Dimensions, idx.dims)
	}
	if stats.IndexKind != "" && stats.IndexKind != idx.kind {
		slog.Warn("rag: index kind mismatch between sidecar and configuration", "file", stats.IndexKind, "configured", idx.kind)
	}
	return nil
}

func pointToResult(id *pb.PointId, payload map[string]*pb.Value) SearchResult {
	result := SearchResult{ID: id.GetUuid()}
	if payload == nil {
		return result
	}
	if v, ok := payload["text"]; ok {
		result.Text = v.GetStringValue()
	}
	if v, ok := payload["metadata"]; ok {
		var meta map[string]any
		if err := json.Unmarshal([]byte(v.GetStringValue()), &meta); err == nil {
			result.Metadata = meta
		}
	}
	return result
}

func ptrUint32(v uint32) *uint32 { return &v }
