package eventstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOffsetsKey(t *testing.T) {
	assert.Equal(t, "feed:offsets", OffsetsKey("feed"))
	assert.Equal(t, "offsets", OffsetsKey(""))
}

func TestStoresSatisfyInterfaces(t *testing.T) {
	var _ EventLog = &MemoryStore{}
	var _ OffsetIndex = &MemoryStore{}
	var _ EventLog = &GormEventLog{}
	var _ OffsetIndex = &GormOffsetIndex{}
	var _ OffsetIndex = &RedisOffsetIndex{}
}
