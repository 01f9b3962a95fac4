package receipts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice uint = 1
	bob   uint = 2
	carol uint = 3
)

func TestMostRecentSeen_GroupPicksLatestSeen(t *testing.T) {
	msgs := []Message{
		{ID: 10, SenderID: alice, Timestamp: 100, Sequence: 1, SeenBy: []uint{bob, carol}},
		{ID: 11, SenderID: alice, Timestamp: 200, Sequence: 2, SeenBy: []uint{bob}},
		{ID: 12, SenderID: bob, Timestamp: 300, Sequence: 3},
	}
	got := MostRecentSeen(Group, carol, msgs, nil)
	require.NotNil(t, got)
	assert.Equal(t, uint(11), got.MessageID)
	assert.Equal(t, []uint{bob}, got.SeenBy)
}

func TestMostRecentSeen_GroupIgnoresSenderAndSubset(t *testing.T) {
	msgs := []Message{
		{ID: 10, SenderID: alice, Timestamp: 100, Sequence: 1, SeenBy: []uint{bob}},
		// carol 已离开, alice 是发送者
		{ID: 11, SenderID: alice, Timestamp: 200, Sequence: 2, SeenBy: []uint{alice, carol}},
	}
	got := MostRecentSeen(Group, alice, msgs, []uint{alice, bob})
	require.NotNil(t, got)
	assert.Equal(t, uint(10), got.MessageID)
	assert.Equal(t, []uint{bob}, got.SeenBy)
}

func TestMostRecentSeen_DirectOnlyViewersLatest(t *testing.T) {
	msgs := []Message{
		{ID: 1, SenderID: alice, Timestamp: 100, Sequence: 1, SeenBy: []uint{bob}},
		{ID: 2, SenderID: bob, Timestamp: 150, Sequence: 2, SeenBy: []uint{alice}},
		{ID: 3, SenderID: alice, Timestamp: 200, Sequence: 3},
	}
	// alice 最新的消息 bob 还没看, 不显示旧的标记
	assert.Nil(t, MostRecentSeen(Direct, alice, msgs, nil))

	msgs[2].SeenBy = []uint{bob}
	got := MostRecentSeen(Direct, alice, msgs, nil)
	require.NotNil(t, got)
	assert.Equal(t, uint(3), got.MessageID)

	got = MostRecentSeen(Direct, bob, msgs, nil)
	require.NotNil(t, got)
	assert.Equal(t, uint(2), got.MessageID)
}

func TestMostRecentSeen_SameTimestampUsesSequence(t *testing.T) {
	msgs := []Message{
		{ID: 21, SenderID: alice, Timestamp: 100, Sequence: 7, SeenBy: []uint{bob}},
		{ID: 20, SenderID: alice, Timestamp: 100, Sequence: 5, SeenBy: []uint{bob, carol}},
	}
	got := MostRecentSeen(Group, alice, msgs, nil)
	require.NotNil(t, got)
	assert.Equal(t, uint(21), got.MessageID)
}

func TestMostRecentSeen_Empty(t *testing.T) {
	assert.Nil(t, MostRecentSeen(Group, alice, nil, nil))
}

func TestMostRecentSeen_EarlierReceiptSuperseded(t *testing.T) {
	msgs := []Message{
		{ID: 1, SenderID: carol, Timestamp: 100, Sequence: 1, SeenBy: []uint{alice, bob}},
		{ID: 2, SenderID: carol, Timestamp: 200, Sequence: 2, SeenBy: []uint{alice}},
	}
	got := MostRecentSeen(Group, carol, msgs, []uint{alice, bob, carol})
	require.NotNil(t, got)
	assert.Equal(t, uint(2), got.MessageID)
	assert.Equal(t, []uint{alice}, got.SeenBy)
}
