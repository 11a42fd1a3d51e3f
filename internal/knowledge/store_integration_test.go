package knowledge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/quarrydev/quarry/internal/knowledge"
	"github.com/quarrydev/quarry/internal/testutil"
)

const testDim = 768

// unitVector builds a deterministic embedding dominated by one axis so
// cosine ranking in tests is predictable.
func unitVector(axis int) []float32 {
	vec := make([]float32, testDim)
	vec[axis%testDim] = 1
	return vec
}

func newTestStore(t *testing.T) (*knowledge.Store, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	store, err := knowledge.NewStore(db.Pool, db.ConnStr, "quarry-test", nil)
	if err != nil {
		cleanup()
		t.Fatalf("NewStore: %v", err)
	}
	return store, cleanup
}

func TestStoreUpsertIdempotent_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	doc := knowledge.NewDocument(knowledge.DocTypeSQLPattern,
		"Query: SELECT region, SUM(total) FROM orders GROUP BY region",
		knowledge.Tags{SourceNotebook: "revenue.ipynb"})
	doc.Embedding = unitVector(1)

	n, err := store.Upsert(ctx, []knowledge.Document{doc})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if n != 1 {
		t.Errorf("first upsert inserted %d, want 1", n)
	}

	n, err = store.Upsert(ctx, []knowledge.Document{doc})
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if n != 0 {
		t.Errorf("re-upsert inserted %d, want 0 (idempotent by content hash)", n)
	}

	got, err := store.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Tags.SourceNotebook != "revenue.ipynb" {
		t.Errorf("tags round-trip = %+v", got.Tags)
	}
	if len(got.Embedding) != testDim {
		t.Errorf("embedding dim = %d, want %d", len(got.Embedding), testDim)
	}
}

func TestStoreExistingIDs_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	doc := knowledge.NewDocument(knowledge.DocTypeSchemaDoc, "## Table: sales.orders", knowledge.Tags{Table: "orders"})
	if _, err := store.Upsert(ctx, []knowledge.Document{doc}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	existing, err := store.ExistingIDs(ctx, []string{doc.ID, "absent"})
	if err != nil {
		t.Fatalf("ExistingIDs: %v", err)
	}
	if _, ok := existing[doc.ID]; !ok {
		t.Error("indexed id not reported as existing")
	}
	if _, ok := existing["absent"]; ok {
		t.Error("unknown id reported as existing")
	}
}

func TestStoreSearchVector_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	docs := []knowledge.Document{
		knowledge.NewDocument(knowledge.DocTypeSQLPattern, "orders by region", knowledge.Tags{}),
		knowledge.NewDocument(knowledge.DocTypeSQLPattern, "user churn per week", knowledge.Tags{}),
	}
	docs[0].Embedding = unitVector(0)
	docs[1].Embedding = unitVector(1)
	if _, err := store.Upsert(ctx, docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.SearchVector(ctx, unitVector(0), 2, knowledge.DocTypeSQLPattern)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Document.ID != docs[0].ID {
		t.Errorf("nearest = %s, want the aligned vector", got[0].Document.ID)
	}
	if got[0].Score < 0.99 {
		t.Errorf("aligned similarity = %v, want ~1", got[0].Score)
	}
	if got[1].Score > 0.5 {
		t.Errorf("orthogonal similarity = %v, want ~0", got[1].Score)
	}
}

func TestStoreSearchTextAndHybrid_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	docs := []knowledge.Document{
		knowledge.NewDocument(knowledge.DocTypeSQLPattern, "monthly revenue totals per sales region", knowledge.Tags{}),
		knowledge.NewDocument(knowledge.DocTypeSQLPattern, "weekly churn counts for subscriber accounts", knowledge.Tags{}),
	}
	docs[0].Embedding = unitVector(0)
	docs[1].Embedding = unitVector(1)
	if _, err := store.Upsert(ctx, docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	lexical, err := store.SearchText(ctx, "revenue region", 2, knowledge.DocTypeSQLPattern)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(lexical) == 0 || lexical[0].Document.ID != docs[0].ID {
		t.Fatalf("lexical top = %v, want revenue document", lexical)
	}

	// Lexical signal points at doc 0, vector signal at doc 1.
	hybridText, err := store.SearchHybrid(ctx, "revenue region", unitVector(1), 2, 1.0, knowledge.DocTypeSQLPattern)
	if err != nil {
		t.Fatalf("SearchHybrid: %v", err)
	}
	if hybridText[0].Document.ID != docs[0].ID {
		t.Error("textWeight=1 did not reproduce lexical ranking")
	}

	hybridVec, err := store.SearchHybrid(ctx, "revenue region", unitVector(1), 2, 0.0, knowledge.DocTypeSQLPattern)
	if err != nil {
		t.Fatalf("SearchHybrid: %v", err)
	}
	if hybridVec[0].Document.ID != docs[1].ID {
		t.Error("textWeight=0 did not reproduce vector ranking")
	}
}

func TestStoreSchemaTablesAndStats_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	docs := []knowledge.Document{
		knowledge.NewDocument(knowledge.DocTypeSchemaDoc, "## Table: sales.orders", knowledge.Tags{Database: "sales", Table: "orders"}),
		knowledge.NewDocument(knowledge.DocTypeSchemaDoc, "## Table: sales.users", knowledge.Tags{Database: "sales", Table: "users"}),
		knowledge.NewDocument(knowledge.DocTypeSQLPattern, "SELECT 1", knowledge.Tags{}),
	}
	if _, err := store.Upsert(ctx, docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	tables, err := store.SchemaTables(ctx)
	if err != nil {
		t.Fatalf("SchemaTables: %v", err)
	}
	if len(tables) != 2 || tables[0] != "orders" || tables[1] != "users" {
		t.Errorf("SchemaTables = %v, want [orders users]", tables)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocumentCount != 3 {
		t.Errorf("DocumentCount = %d, want 3", stats.DocumentCount)
	}
	if stats.Status != "green" || stats.IndexSize <= 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStoreEnsureIndexForceRecreate_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	doc := knowledge.NewDocument(knowledge.DocTypeSQLPattern, "SELECT 1", knowledge.Tags{})
	if _, err := store.Upsert(ctx, []knowledge.Document{doc}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := store.EnsureIndex(ctx, true); err != nil {
		t.Fatalf("EnsureIndex(force): %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocumentCount != 0 {
		t.Errorf("DocumentCount after force recreate = %d, want 0", stats.DocumentCount)
	}
}

func TestStoreGetNotFound_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.Get(context.Background(), "deadbeef")
	if !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
