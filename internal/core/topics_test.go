package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicTableDerivedResolution(t *testing.T) {
	table := NewTopicTable("100100003", "0000014", true)

	assert.Equal(t, "100100003/0000014/S2M/keepalive", table.Resolve(CategoryKeepalive, DirectionSubscribe))
	assert.Equal(t, "100100003/0000014/S2M/response", table.Resolve(CategoryResponse, DirectionSubscribe))
	assert.Equal(t, "100100003/0000014/M2S/confirm", table.Resolve(CategoryConfirm, DirectionPublish))
	assert.Equal(t, "100100003/0000014/M2S/request", table.Resolve(CategoryRequest, DirectionPublish))
}

func TestTopicTableExplicitFallbackAndOverride(t *testing.T) {
	table := NewTopicTable("100100003", "0000014", false)

	// Unset slots fall back to default/{category}.
	assert.Equal(t, "default/state", table.Resolve(CategoryState, DirectionSubscribe))

	require.NoError(t, table.SetOverride(CategoryState, DirectionSubscribe, "100100003/9999998/S2M/state"))
	assert.Equal(t, "100100003/9999998/S2M/state", table.Resolve(CategoryState, DirectionSubscribe))
}

func TestTopicTableRejectsUnknownSlot(t *testing.T) {
	table := NewTopicTable("100100003", "0000014", false)

	// Confirm is publish-only; event is subscribe-only.
	assert.ErrorIs(t, table.SetOverride(CategoryConfirm, DirectionSubscribe, "x"), ErrUnknownTopicSlot)
	assert.ErrorIs(t, table.SetOverride(CategoryEvent, DirectionPublish, "x"), ErrUnknownTopicSlot)
	assert.ErrorIs(t, table.SetOverride(Category("bogus"), DirectionSubscribe, "x"), ErrUnknownTopicSlot)

	// Rejected overrides must not leak into resolution.
	assert.Equal(t, "default/event", table.Resolve(CategoryEvent, DirectionSubscribe))
}

func TestTopicTableClassifyDerived(t *testing.T) {
	table := NewTopicTable("100100003", "0000014", true)

	cat, ok := table.Classify("100100003/0000014/S2M/keepalive")
	require.True(t, ok)
	assert.Equal(t, CategoryKeepalive, cat)

	cat, ok = table.Classify("100100003/0000014/S2M/event")
	require.True(t, ok)
	assert.Equal(t, CategoryEvent, cat)

	_, ok = table.Classify("100100003/0000014/S2M/firmware")
	assert.False(t, ok)
}

func TestTopicTableClassifyExplicit(t *testing.T) {
	table := NewTopicTable("100100003", "0000014", false)
	require.NoError(t, table.SetOverride(CategoryState, DirectionSubscribe, "legacy/ess/state-feed"))

	cat, ok := table.Classify("legacy/ess/state-feed")
	require.True(t, ok)
	assert.Equal(t, CategoryState, cat)

	// Explicit mode needs an exact match, not a token match.
	_, ok = table.Classify("legacy/ess/state-feed/extra")
	assert.False(t, ok)
}

func TestTopicTableSubscribeTopics(t *testing.T) {
	table := NewTopicTable("100100003", "0000014", true)

	assert.Equal(t, []string{
		"100100003/0000014/S2M/keepalive",
		"100100003/0000014/S2M/state",
		"100100003/0000014/S2M/event",
		"100100003/0000014/S2M/response",
	}, table.SubscribeTopics())
}
