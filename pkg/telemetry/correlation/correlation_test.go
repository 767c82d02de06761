package correlation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureKeepsInheritedID(t *testing.T) {
	ctx := WithID(context.Background(), "abc")
	ctx, id := Ensure(ctx, "billing")
	assert.Equal(t, "abc", id)
	assert.Equal(t, "abc", FromContext(ctx))
}

func TestEnsurePrefixesJobName(t *testing.T) {
	ctx, id := Ensure(context.Background(), " Dunning ")
	assert.True(t, strings.HasPrefix(id, "dunning-"))
	assert.Len(t, id, len("dunning-")+26)
	assert.Equal(t, id, FromContext(ctx))
}

func TestEnsureWithoutJob(t *testing.T) {
	_, id := Ensure(context.Background(), "")
	assert.Len(t, id, 26)
}

func TestWithIDIgnoresBlank(t *testing.T) {
	ctx := WithID(context.Background(), "  ")
	assert.Empty(t, FromContext(ctx))
}
