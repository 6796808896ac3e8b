package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// fakeIndex is a scriptable storage.VectorIndex for unit tests.
type fakeIndex struct {
	searchFn func(ctx context.Context, ownerID, query string, k int) ([]storage.ScoredRecord, error)
	addFn    func(ctx context.Context, rec *types.MemoryRecord) error

	deletedOwners        []string
	deletedConversations [][2]string
	deleteErr            error
}

func (f *fakeIndex) Add(ctx context.Context, rec *types.MemoryRecord) error {
	if f.addFn != nil {
		return f.addFn(ctx, rec)
	}
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, ownerID, query string, k int) ([]storage.ScoredRecord, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, ownerID, query, k)
	}
	return nil, nil
}

func (f *fakeIndex) DeleteByOwner(_ context.Context, ownerID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedOwners = append(f.deletedOwners, ownerID)
	return nil
}

func (f *fakeIndex) DeleteByConversation(_ context.Context, ownerID, conversationID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedConversations = append(f.deletedConversations, [2]string{ownerID, conversationID})
	return nil
}

func (f *fakeIndex) Stats(context.Context) (storage.Stats, error) {
	return storage.Stats{}, nil
}

func (f *fakeIndex) Close() error { return nil }

func scored(text string, role types.Role, score float64) storage.ScoredRecord {
	return storage.ScoredRecord{
		Record: types.MemoryRecord{Text: text, Role: role},
		Score:  score,
	}
}

func TestRetrieveDefaultsK(t *testing.T) {
	var gotK int
	idx := &fakeIndex{searchFn: func(_ context.Context, _, _ string, k int) ([]storage.ScoredRecord, error) {
		gotK = k
		return nil, nil
	}}

	r := NewRetriever(idx, 0)
	_, err := r.Retrieve(context.Background(), "owner", "query", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultK, gotK)

	_, err = r.Retrieve(context.Background(), "owner", "query", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, gotK)
}

func TestRetrieveSetsDeadline(t *testing.T) {
	idx := &fakeIndex{searchFn: func(ctx context.Context, _, _ string, _ int) ([]storage.ScoredRecord, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "search context must carry a deadline")
		return nil, nil
	}}

	r := NewRetriever(idx, 0)
	_, err := r.Retrieve(context.Background(), "owner", "query", 5)
	require.NoError(t, err)
}

func TestRetrievePropagatesIndexErrors(t *testing.T) {
	boom := errors.New("validation failed")
	idx := &fakeIndex{searchFn: func(context.Context, string, string, int) ([]storage.ScoredRecord, error) {
		return nil, boom
	}}

	r := NewRetriever(idx, 0)
	_, err := r.Retrieve(context.Background(), "owner", "query", 5)
	assert.True(t, errors.Is(err, boom))
}

func TestRetrievePromotesUserStatementsForPersonalFacts(t *testing.T) {
	idx := &fakeIndex{searchFn: func(context.Context, string, string, int) ([]storage.ScoredRecord, error) {
		return []storage.ScoredRecord{
			scored("the user likes dogs, noted", types.RoleAgent, 0.95),
			scored("my favorite animal is dogs", types.RoleUser, 0.90),
			scored("dogs were mentioned again", types.RoleAgent, 0.80),
			scored("i also like cats a little", types.RoleUser, 0.70),
		}, nil
	}}

	r := NewRetriever(idx, 0)
	results, err := r.Retrieve(context.Background(), "owner", "what is my favorite animal", 5)
	require.NoError(t, err)
	require.Len(t, results, 4)

	// User statements first, score order preserved within each group.
	assert.Equal(t, "my favorite animal is dogs", results[0].Text)
	assert.Equal(t, "i also like cats a little", results[1].Text)
	assert.Equal(t, "the user likes dogs, noted", results[2].Text)
	assert.Equal(t, "dogs were mentioned again", results[3].Text)
}

func TestRetrieveKeepsScoreOrderForGeneralQueries(t *testing.T) {
	idx := &fakeIndex{searchFn: func(context.Context, string, string, int) ([]storage.ScoredRecord, error) {
		return []storage.ScoredRecord{
			scored("we chose modernc for the driver", types.RoleAgent, 0.95),
			scored("let's use sqlite", types.RoleUser, 0.90),
		}, nil
	}}

	r := NewRetriever(idx, 0)
	results, err := r.Retrieve(context.Background(), "owner", "what did we decide about the database", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, types.RoleAgent, results[0].Role)
}
