package statemachine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKVStoreApplyPutAndDelete(t *testing.T) {
	kv := NewKVStore()

	putData, err := json.Marshal(Command{Op: "put", Key: "foo", Value: []byte("bar")})
	require.NoError(t, err)

	var replied interface{}
	err = kv.Apply(GroupState{GroupID: 1}, []Apply{
		{Kind: ApplyNormal, Index: 1, Data: putData, Reply: func(resp interface{}, err error) {
			require.NoError(t, err)
			replied = resp
		}},
	})
	require.NoError(t, err)
	require.NotNil(t, replied)

	v, ok := kv.Get(1, "foo")
	require.True(t, ok)
	require.Equal(t, []byte("bar"), v)

	delData, err := json.Marshal(Command{Op: "delete", Key: "foo"})
	require.NoError(t, err)
	require.NoError(t, kv.Apply(GroupState{GroupID: 1}, []Apply{
		{Kind: ApplyNormal, Index: 2, Data: delData},
	}))

	_, ok = kv.Get(1, "foo")
	require.False(t, ok)
}

func TestKVStoreShardsAreIndependentPerGroup(t *testing.T) {
	kv := NewKVStore()
	putData, _ := json.Marshal(Command{Op: "put", Key: "k", Value: []byte("g1")})
	require.NoError(t, kv.Apply(GroupState{GroupID: 1}, []Apply{{Kind: ApplyNormal, Data: putData}}))

	_, ok := kv.Get(2, "k")
	require.False(t, ok)
}

func TestKVStoreMembershipAcknowledges(t *testing.T) {
	kv := NewKVStore()
	acked := false
	require.NoError(t, kv.Apply(GroupState{GroupID: 1}, []Apply{
		{Kind: ApplyMembership, Reply: func(resp interface{}, err error) {
			acked = true
			require.NoError(t, err)
		}},
	}))
	require.True(t, acked)
}
