package index

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatreplay/chatreplay/internal/canonical"
	"github.com/chatreplay/chatreplay/pkg/types"
)

func u(s string) types.Message { return types.Message{Role: types.RoleUser, Content: s} }
func a(s string) types.Message { return types.Message{Role: types.RoleAssistant, Content: s} }

func key(t *testing.T, msgs ...types.Message) canonical.Key {
	t.Helper()
	k, err := canonical.Canonicalize(msgs)
	require.NoError(t, err)
	return k
}

func TestBuild_SingleConversation(t *testing.T) {
	ix, err := Build([]types.Conversation{
		{ID: "c1", Messages: []types.Message{u("hi"), a("hello"), u("bye"), a("goodbye")}},
	})
	require.NoError(t, err)

	cands, ok := ix.Candidates(key(t, u("hi")))
	require.True(t, ok)
	assert.Equal(t, []types.Candidate{{ConversationID: "c1", Content: "hello"}}, cands)

	cands, ok = ix.Candidates(key(t, u("hi"), a("hello"), u("bye")))
	require.True(t, ok)
	assert.Equal(t, "goodbye", cands[0].Content)

	_, ok = ix.Candidates(key(t, u("hi"), a("hello")))
	assert.False(t, ok, "prefix ending on Assistant has no successor")

	stats := ix.Stats()
	assert.Equal(t, 1, stats.Conversations)
	assert.Equal(t, 4, stats.Messages)
	assert.Equal(t, 2, stats.Keys)
	assert.Equal(t, 2, stats.Candidates)
	assert.Equal(t, 0, stats.CollidingKeys)
	assert.Equal(t, 2, ix.Len())
}

func TestBuild_CollisionKeepsDatasetOrder(t *testing.T) {
	ix, err := Build([]types.Conversation{
		{ID: "A", Messages: []types.Message{u("hi"), a("hello")}},
		{ID: "B", Messages: []types.Message{u("hi"), a("hey")}},
		{ID: "C", Messages: []types.Message{u("other"), a("x")}},
	})
	require.NoError(t, err)

	cands, ok := ix.Candidates(key(t, u("hi")))
	require.True(t, ok)
	assert.Equal(t, []types.Candidate{
		{ConversationID: "A", Content: "hello"},
		{ConversationID: "B", Content: "hey"},
	}, cands)

	stats := ix.Stats()
	assert.Equal(t, 1, stats.CollidingKeys)
	assert.Equal(t, 2, stats.MaxCandidates)
	assert.Equal(t, 3, stats.Candidates)
}

func TestBuild_AssistantAtPositionZeroSkipped(t *testing.T) {
	ix, err := Build([]types.Conversation{
		{ID: "c1", Messages: []types.Message{a("unprompted"), u("q"), a("r")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Stats().SkippedEmptyPrefix)
	assert.Equal(t, 1, ix.Len())

	cands, ok := ix.Candidates(key(t, a("unprompted"), u("q")))
	require.True(t, ok)
	assert.Equal(t, "r", cands[0].Content)
}

func TestBuild_ConsecutiveAssistants(t *testing.T) {
	ix, err := Build([]types.Conversation{
		{ID: "c1", Messages: []types.Message{u("q"), a("r1"), a("r2")}},
	})
	require.NoError(t, err)

	cands, ok := ix.Candidates(key(t, u("q"), a("r1")))
	require.True(t, ok)
	assert.Equal(t, "r2", cands[0].Content)
}

func TestBuild_UnknownRoleFails(t *testing.T) {
	_, err := Build([]types.Conversation{
		{ID: "bad", Messages: []types.Message{{Role: "robot", Content: "x"}, a("y")}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestBuild_Empty(t *testing.T) {
	ix, err := Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, ix.Len())
	_, ok := ix.Candidates(key(t, u("anything")))
	assert.False(t, ok)
}

func TestBuild_BloomDoesNotHideKeys(t *testing.T) {
	var convs []types.Conversation
	for i := 0; i < 2000; i++ {
		convs = append(convs, types.Conversation{
			ID:       fmt.Sprintf("c%d", i),
			Messages: []types.Message{u(fmt.Sprintf("question %d", i)), a(fmt.Sprintf("answer %d", i))},
		})
	}
	ix, err := Build(convs)
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		cands, ok := ix.Candidates(key(t, u(fmt.Sprintf("question %d", i))))
		require.True(t, ok, "question %d", i)
		assert.Equal(t, fmt.Sprintf("answer %d", i), cands[0].Content)
	}
	stats := ix.Stats()
	assert.Greater(t, stats.BloomBits, 0)
	assert.Greater(t, stats.BloomHashes, 0)
	assert.Less(t, stats.BloomEstimatedFPR, 0.02)
}

func TestBuild_WithoutBloom(t *testing.T) {
	ix, err := Build([]types.Conversation{
		{ID: "c1", Messages: []types.Message{u("hi"), a("hello")}},
	}, WithBloomFPR(0))
	require.NoError(t, err)
	assert.Equal(t, 0, ix.Stats().BloomBits)
	_, ok := ix.Candidates(key(t, u("hi")))
	assert.True(t, ok)
}

func TestBuild_Duration(t *testing.T) {
	base := time.Unix(1700000000, 0)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	ix, err := Build(nil, WithClock(clock))
	require.NoError(t, err)
	assert.Equal(t, time.Second, ix.Stats().BuildDuration)
}
