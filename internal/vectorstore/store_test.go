package vectorstore

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

type mockPoints struct {
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	deleteResp *pb.PointsOperationResponse
	deleteErr  error
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, _ *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, _ *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, _ *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.createResp, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{
		Collections: []*pb.CollectionDescription{{Name: RagDataCollection}},
	}}
	s := NewWithClients(&mockPoints{}, cols)
	if err := s.EnsureCollection(context.Background(), RagDataCollection, 384); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	s := NewWithClients(&mockPoints{}, cols)
	if err := s.EnsureCollection(context.Background(), "file-abc123", 384); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
}

func TestEnsureCollection_CreateError(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}, createErr: errors.New("boom")}
	s := NewWithClients(&mockPoints{}, cols)
	if err := s.EnsureCollection(context.Background(), "file-abc123", 384); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_Empty(t *testing.T) {
	s := NewWithClients(&mockPoints{}, &mockCollections{})
	if err := s.Upsert(context.Background(), RagDataCollection, nil); err != nil {
		t.Fatalf("Upsert with no records should be a no-op: %v", err)
	}
}

func TestUpsert_PayloadTypes(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	s := NewWithClients(pts, &mockCollections{})
	records := []Record{{
		ID:        "00000000-0000-0000-0000-000000000001",
		Embedding: []float32{0.1, 0.2},
		Payload: map[string]any{
			"content":     "hello",
			"chunk_index": 3,
			"score":       0.5,
			"verified":    true,
		},
	}}
	if err := s.Upsert(context.Background(), "file-xyz", records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("boom")}
	s := NewWithClients(pts, &mockCollections{})
	err := s.Upsert(context.Background(), RagDataCollection, []Record{{ID: "x", Embedding: []float32{1}}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch_MapsPayload(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{
		Result: []*pb.ScoredPoint{
			{
				Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "id-1"}},
				Score: 0.9,
				Payload: map[string]*pb.Value{
					"content": {Kind: &pb.Value_StringValue{StringValue: "chunk text"}},
					"doc_id":  {Kind: &pb.Value_StringValue{StringValue: "doc-1"}},
					"source":  {Kind: &pb.Value_StringValue{StringValue: "upload"}},
					"extra":   {Kind: &pb.Value_StringValue{StringValue: "meta-val"}},
				},
			},
		},
	}}
	s := NewWithClients(pts, &mockCollections{})
	results, err := s.Search(context.Background(), RagDataCollection, []float32{0.1}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Content != "chunk text" || r.DocID != "doc-1" || r.Source != "upload" || r.Meta["extra"] != "meta-val" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestSearchFiltered_BuildsFilter(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	s := NewWithClients(pts, &mockCollections{})
	_, err := s.SearchFiltered(context.Background(), RagDataCollection, []float32{0.1}, 5, map[string]string{"doc_id": "doc-1"})
	if err != nil {
		t.Fatalf("SearchFiltered: %v", err)
	}
}

func TestDeleteByDocID(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	s := NewWithClients(pts, &mockCollections{})
	if err := s.DeleteByDocID(context.Background(), RagDataCollection, "doc-1"); err != nil {
		t.Fatalf("DeleteByDocID: %v", err)
	}
}

func TestDeleteCollection(t *testing.T) {
	cols := &mockCollections{deleteResp: &pb.CollectionOperationResponse{}}
	s := NewWithClients(&mockPoints{}, cols)
	if err := s.DeleteCollection(context.Background(), "file-xyz"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
}

func TestClose_NilConn(t *testing.T) {
	s := NewWithClients(&mockPoints{}, &mockCollections{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
