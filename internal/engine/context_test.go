package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContext(t *testing.T) {
	t.Parallel()

	t.Run("empty input yields empty context", func(t *testing.T) {
		t.Parallel()
		ctx, err := ParseContext(nil)
		require.NoError(t, err)
		assert.Empty(t, ctx)
	})

	t.Run("scalar kinds", func(t *testing.T) {
		t.Parallel()
		ctx, err := ParseContext([]byte(`{"plan":"pro","age":31,"beta":true,"teams":["a","b"]}`))
		require.NoError(t, err)

		assert.Equal(t, String("pro"), ctx["plan"])
		assert.Equal(t, Number(31), ctx["age"])
		assert.Equal(t, Bool(true), ctx["beta"])
		assert.Equal(t, List("a", "b"), ctx["teams"])
	})

	t.Run("user sub-map flattens into top level", func(t *testing.T) {
		t.Parallel()
		ctx, err := ParseContext([]byte(`{"user":{"user_id":"u1","plan":"pro"},"region":"eu"}`))
		require.NoError(t, err)

		assert.Equal(t, String("u1"), ctx["user_id"])
		assert.Equal(t, String("pro"), ctx["plan"])
		assert.Equal(t, String("eu"), ctx["region"])
		_, hasUser := ctx["user"]
		assert.False(t, hasUser, "the user key must be removed after flattening")
	})

	t.Run("user fields win over top-level duplicates", func(t *testing.T) {
		t.Parallel()
		ctx, err := ParseContext([]byte(`{"plan":"free","user":{"plan":"pro"}}`))
		require.NoError(t, err)
		assert.Equal(t, String("pro"), ctx["plan"])
	})

	t.Run("unsupported shapes are dropped", func(t *testing.T) {
		t.Parallel()
		ctx, err := ParseContext([]byte(`{"nested":{"a":1},"mixed":[1,"b"],"ok":"yes"}`))
		require.NoError(t, err)

		assert.Equal(t, String("yes"), ctx["ok"])
		_, hasNested := ctx["nested"]
		assert.False(t, hasNested)
		_, hasMixed := ctx["mixed"]
		assert.False(t, hasMixed)
	})

	t.Run("malformed json is an error", func(t *testing.T) {
		t.Parallel()
		_, err := ParseContext([]byte(`{not json`))
		assert.Error(t, err)
	})
}

func TestValue_Str(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello", String("hello").Str())
	assert.Equal(t, "42", Number(42).Str())
	assert.Equal(t, "3.5", Number(3.5).Str())
	assert.Equal(t, "true", Bool(true).Str())
	assert.Equal(t, "a,b", List("a", "b").Str())
	assert.Equal(t, "", Value{}.Str())
}

func TestValue_Float(t *testing.T) {
	t.Parallel()

	f, ok := Number(1.25).Float()
	assert.True(t, ok)
	assert.Equal(t, 1.25, f)

	f, ok = String(" 10 ").Float()
	assert.True(t, ok)
	assert.Equal(t, 10.0, f)

	_, ok = String("nope").Float()
	assert.False(t, ok)
	_, ok = Bool(true).Float()
	assert.False(t, ok)
	_, ok = List("1").Float()
	assert.False(t, ok)
}

func TestContext_SubjectID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  Context
		want string
	}{
		{"user_id wins", Context{"user_id": String("u1"), "id": String("i1"), "anonymous_id": String("a1")}, "u1"},
		{"id second", Context{"id": String("i1"), "anonymous_id": String("a1")}, "i1"},
		{"anonymous_id third", Context{"anonymous_id": String("a1")}, "a1"},
		{"empty user_id falls through", Context{"user_id": String(""), "id": String("i1")}, "i1"},
		{"numeric id coerces", Context{"user_id": Number(42)}, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.SubjectID())
		})
	}

	t.Run("no identifier yields a fresh random value", func(t *testing.T) {
		t.Parallel()
		ctx := Context{"plan": String("pro")}
		first := ctx.SubjectID()
		second := ctx.SubjectID()
		assert.NotEmpty(t, first)
		assert.NotEqual(t, first, second, "random fallback is non-deterministic by design")
	})
}
