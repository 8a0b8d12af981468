// Copyright 2022 The wsbroker Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestInMemoryKeyValue(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetInMemoryDriver("unit-test")
	assert.Nil(err)

	key := uuid.New().String()

	// Case 1: missing key
	{
		_, err := uut.Get(ctxt, key)
		assert.Equal(ErrKeyNotFound, err)
		present, err := uut.Exists(ctxt, key)
		assert.Nil(err)
		assert.False(present)
	}

	// Case 2: set and read back
	{
		assert.Nil(uut.Set(ctxt, key, "alive", 0))
		value, err := uut.Get(ctxt, key)
		assert.Nil(err)
		assert.Equal("alive", value)
		present, err := uut.Exists(ctxt, key)
		assert.Nil(err)
		assert.True(present)
	}

	// Case 3: delete is idempotent
	{
		assert.Nil(uut.Delete(ctxt, key))
		assert.Nil(uut.Delete(ctxt, key))
		_, err := uut.Get(ctxt, key)
		assert.Equal(ErrKeyNotFound, err)
	}

	// Case 4: TTL expiry
	{
		assert.Nil(uut.Set(ctxt, key, "alive", time.Millisecond*50))
		present, err := uut.Exists(ctxt, key)
		assert.Nil(err)
		assert.True(present)
		time.Sleep(time.Millisecond * 80)
		present, err = uut.Exists(ctxt, key)
		assert.Nil(err)
		assert.False(present)
	}
}

func TestInMemoryHashMap(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetInMemoryDriver("unit-test")
	assert.Nil(err)

	key := uuid.New().String()

	// Case 1: missing key
	{
		_, err := uut.HashGet(ctxt, key, "f0")
		assert.Equal(ErrKeyNotFound, err)
		all, err := uut.HashGetAll(ctxt, key)
		assert.Nil(err)
		assert.Empty(all)
		fields, err := uut.HashKeys(ctxt, key)
		assert.Nil(err)
		assert.Empty(fields)
	}

	// Case 2: put and read back
	{
		assert.Nil(uut.HashPut(ctxt, key, "f0", "v0"))
		assert.Nil(uut.HashPut(ctxt, key, "f1", "v1"))
		value, err := uut.HashGet(ctxt, key, "f0")
		assert.Nil(err)
		assert.Equal("v0", value)
		all, err := uut.HashGetAll(ctxt, key)
		assert.Nil(err)
		assert.Len(all, 2)
		assert.Equal("v1", all["f1"])
		fields, err := uut.HashKeys(ctxt, key)
		assert.Nil(err)
		assert.ElementsMatch([]string{"f0", "f1"}, fields)
	}

	// Case 3: field delete
	{
		assert.Nil(uut.HashDelete(ctxt, key, "f0"))
		_, err := uut.HashGet(ctxt, key, "f0")
		assert.Equal(ErrKeyNotFound, err)
		fields, err := uut.HashKeys(ctxt, key)
		assert.Nil(err)
		assert.Equal([]string{"f1"}, fields)
	}
}

func TestInMemorySortedSet(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetInMemoryDriver("unit-test")
	assert.Nil(err)

	key := uuid.New().String()

	// Case 1: score ordering
	{
		assert.Nil(uut.SortedAdd(ctxt, key, "m2", 20))
		assert.Nil(uut.SortedAdd(ctxt, key, "m0", 0))
		assert.Nil(uut.SortedAdd(ctxt, key, "m1", 10))
		members, err := uut.SortedRange(ctxt, key, 0, -1)
		assert.Nil(err)
		assert.Equal([]string{"m0", "m1", "m2"}, members)
		card, err := uut.SortedCard(ctxt, key)
		assert.Nil(err)
		assert.Equal(int64(3), card)
	}

	// Case 2: re-adding a member updates its score, not the cardinality
	{
		assert.Nil(uut.SortedAdd(ctxt, key, "m0", 30))
		members, err := uut.SortedRange(ctxt, key, 0, -1)
		assert.Nil(err)
		assert.Equal([]string{"m1", "m2", "m0"}, members)
	}

	// Case 3: rank paging
	{
		members, err := uut.SortedRange(ctxt, key, 0, 1)
		assert.Nil(err)
		assert.Equal([]string{"m1", "m2"}, members)
		members, err = uut.SortedRange(ctxt, key, 2, 3)
		assert.Nil(err)
		assert.Equal([]string{"m0"}, members)
		members, err = uut.SortedRange(ctxt, key, 4, 5)
		assert.Nil(err)
		assert.Empty(members)
	}

	// Case 4: removal
	{
		assert.Nil(uut.SortedRemove(ctxt, key, "m1", "m2"))
		members, err := uut.SortedRange(ctxt, key, 0, -1)
		assert.Nil(err)
		assert.Equal([]string{"m0"}, members)
		assert.Nil(uut.SortedRemove(ctxt, key, "unknown"))
	}
}

func TestInMemoryPubSub(t *testing.T) {
	assert := assert.New(t)
	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetInMemoryDriver("unit-test")
	assert.Nil(err)

	channel := uuid.New().String()

	received0 := make(chan string, 8)
	sub0, err := uut.Subscribe(
		ctxt, &wg, func(_ context.Context, _ string, payload []byte) {
			received0 <- string(payload)
		}, channel,
	)
	assert.Nil(err)
	assert.True(sub0.Active())

	received1 := make(chan string, 8)
	sub1, err := uut.Subscribe(
		ctxt, &wg, func(_ context.Context, _ string, payload []byte) {
			received1 <- string(payload)
		}, channel,
	)
	assert.Nil(err)

	// Case 1: both subscribers see the message
	{
		assert.Nil(uut.Publish(ctxt, channel, []byte("hello")))
		for _, received := range []chan string{received0, received1} {
			select {
			case msg := <-received:
				assert.Equal("hello", msg)
			case <-time.After(time.Second):
				assert.False(true, "subscriber never received")
			}
		}
	}

	// Case 2: closed subscriber no longer receives
	{
		assert.Nil(sub1.Close())
		assert.False(sub1.Active())
		assert.Nil(uut.Publish(ctxt, channel, []byte("again")))
		select {
		case msg := <-received0:
			assert.Equal("again", msg)
		case <-time.After(time.Second):
			assert.False(true, "subscriber never received")
		}
		select {
		case <-received1:
			assert.False(true, "closed subscriber still receiving")
		case <-time.After(time.Millisecond * 100):
		}
	}

	assert.Nil(sub0.Close())
}
