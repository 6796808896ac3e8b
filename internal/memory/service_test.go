package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/sanitize"
	"github.com/scrypster/recall/internal/storage/sqlite"
	"github.com/scrypster/recall/pkg/types"
)

const (
	testOwner = "11111111-1111-1111-1111-111111111111"
	otherUser = "22222222-2222-2222-2222-222222222222"
	testConv  = "33333333-3333-3333-3333-333333333333"
)

// bagEmbedder hashes words into a fixed number of buckets and normalizes,
// so texts sharing words get high cosine similarity. Deterministic and
// offline; good enough to exercise real ranking end to end.
type bagEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *bagEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	vec := make([]float64, 16)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:'\"()")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%16]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func (e *bagEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestService(t *testing.T) (*Service, *bagEmbedder) {
	t.Helper()
	emb := &bagEmbedder{}
	idx, err := sqlite.Open(t.TempDir(), emb)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	svc := New(idx, Config{})
	svc.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, emb
}

// waitForRecords polls stats until the background indexer has stored want
// records or the deadline passes.
func waitForRecords(t *testing.T, svc *Service, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := svc.Stats(context.Background())
		require.NoError(t, err)
		if stats.Records >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("background indexer did not reach %d records in time", want)
}

func TestServiceEndToEndFavoriteAnimal(t *testing.T) {
	svc, _ := newTestService(t)

	// Session one: the user states a fact among unrelated chatter.
	svc.AddMessage(testOwner, testConv, "", types.RoleUser, "My favorite animal is dogs.", "Pets", nil)
	svc.AddMessage(testOwner, testConv, "", types.RoleAgent, "Dogs are wonderful companions!", "Pets", nil)
	svc.AddMessage(testOwner, testConv, "", types.RoleUser, "The deployment pipeline is broken again.", "Pets", nil)
	waitForRecords(t, svc, 3)

	// Session two: a fresh conversation asks about the fact.
	question := "What is my favorite animal?"
	require.True(t, svc.ShouldRetrieve(question))

	results, err := svc.Retrieve(context.Background(), testOwner, question, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, strings.ToLower(results[0].Text), "dogs")
	assert.Equal(t, types.RoleUser, results[0].Role)

	history := []types.Turn{{Role: types.RoleUser, Text: question}}
	injected := svc.Inject(history, results)
	require.Len(t, injected, 5)
	assert.Contains(t, injected[1].Text, "dogs")
	assert.Equal(t, question, injected[len(injected)-1].Text)
}

func TestServiceIsolatesOwners(t *testing.T) {
	svc, _ := newTestService(t)

	svc.AddMessage(testOwner, testConv, "", types.RoleUser, "My favorite animal is dogs.", "", nil)
	waitForRecords(t, svc, 1)

	results, err := svc.Retrieve(context.Background(), otherUser, "What is my favorite animal?", 0)
	require.NoError(t, err)
	assert.Empty(t, results, "one owner must never see another owner's memories")
}

func TestServiceRetrieveInvalidOwnerCostsNoEmbedding(t *testing.T) {
	svc, emb := newTestService(t)

	_, err := svc.Retrieve(context.Background(), "owner-1; DROP TABLE exchanges", "anything", 0)
	assert.True(t, errors.Is(err, sanitize.ErrValidation))
	assert.Zero(t, emb.callCount(), "invalid owner must be rejected before embedding")
}

func TestServiceAddMessageGeneratesMessageID(t *testing.T) {
	svc, _ := newTestService(t)

	id := svc.AddMessage(testOwner, testConv, "", types.RoleUser, "hello there", "", nil)
	assert.NotEmpty(t, id)

	explicit := "44444444-4444-4444-4444-444444444444"
	assert.Equal(t, explicit, svc.AddMessage(testOwner, testConv, explicit, types.RoleUser, "hi again", "", nil))
	waitForRecords(t, svc, 2)
}

func TestServiceAddMessageStoresMetadata(t *testing.T) {
	svc, _ := newTestService(t)

	meta := map[string]string{"source": "slack", "channel": "general"}
	svc.AddMessage(testOwner, testConv, "", types.RoleUser, "my favorite animal is dogs", "", meta)
	waitForRecords(t, svc, 1)

	results, err := svc.Retrieve(context.Background(), testOwner, "what is my favorite animal", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, meta, results[0].Metadata)
}

func TestServiceAddMessageSwallowsIndexFailures(t *testing.T) {
	boom := errors.New("index on fire")
	idx := &fakeIndex{addFn: func(context.Context, *types.MemoryRecord) error {
		return boom
	}}
	svc := New(idx, Config{})
	svc.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	}()

	// Must not panic or surface the failure to the caller.
	svc.AddMessage(testOwner, testConv, "", types.RoleUser, "this will fail to index", "", nil)
}

func TestServiceAddMessageWithInvalidOwnerIsSilent(t *testing.T) {
	svc, _ := newTestService(t)

	svc.AddMessage("not-a-uuid", testConv, "", types.RoleUser, "bad owner", "", nil)
	svc.AddMessage(testOwner, testConv, "", types.RoleUser, "good message", "", nil)
	waitForRecords(t, svc, 1)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Records, "invalid record is dropped, valid one indexed")
}

func TestServiceDeleteConversation(t *testing.T) {
	svc, _ := newTestService(t)

	otherConv := "55555555-5555-5555-5555-555555555555"
	svc.AddMessage(testOwner, testConv, "", types.RoleUser, "my favorite animal is dogs", "", nil)
	svc.AddMessage(testOwner, otherConv, "", types.RoleUser, "my favorite drink is coffee", "", nil)
	waitForRecords(t, svc, 2)

	require.NoError(t, svc.DeleteConversation(context.Background(), testOwner, testConv))

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Records)

	err = svc.DeleteConversation(context.Background(), testOwner, "bad conversation id")
	assert.True(t, errors.Is(err, sanitize.ErrValidation))
}

func TestServiceDeleteOwner(t *testing.T) {
	svc, _ := newTestService(t)

	svc.AddMessage(testOwner, testConv, "", types.RoleUser, "remember me", "", nil)
	svc.AddMessage(otherUser, testConv, "", types.RoleUser, "keep me", "", nil)
	waitForRecords(t, svc, 2)

	require.NoError(t, svc.DeleteOwner(context.Background(), testOwner))
	require.NoError(t, svc.DeleteOwner(context.Background(), testOwner), "repeat delete is idempotent")

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Records)

	err = svc.DeleteOwner(context.Background(), "''; DELETE FROM exchanges")
	assert.True(t, errors.Is(err, sanitize.ErrValidation))
}
