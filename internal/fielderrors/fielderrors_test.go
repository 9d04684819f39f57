package fielderrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NestedRequired(t *testing.T) {
	tree, err := Parse([]byte(`[{"property":"foo.bar","rule":"Required","message":"m"}]`))
	require.NoError(t, err)

	require.True(t, tree.HasErrorForField("foo"))
	foo := tree["foo"]
	assert.Equal(t, "foo", foo.Property)

	assert.True(t, foo.FieldErrors.HasErrorForField("bar"))
	text, ok := foo.FieldErrors.HelperTextForField("bar")
	assert.True(t, ok)
	assert.Equal(t, "Field is required.", text)
	assert.Equal(t, "bar", foo.FieldErrors["bar"].Property)
}

func TestParse_FlatMessages(t *testing.T) {
	tree, err := Parse([]byte(`[
		{"property":"userName","rule":"Length","message":"too short"},
		{"property":"token","rule":"Format"}
	]`))
	require.NoError(t, err)

	text, ok := tree.HelperTextForField("userName")
	assert.True(t, ok)
	assert.Equal(t, "too short", text)

	assert.True(t, tree.HasErrorForField("token"))
	_, ok = tree.HelperTextForField("token")
	assert.False(t, ok)

	_, ok = tree.HelperTextForField("missing")
	assert.False(t, ok)
	assert.False(t, tree.HasErrorForField("missing"))
}

func TestParse_PreShapedObject(t *testing.T) {
	tree, err := Parse([]byte(`{"person.name":{"property":"person.name","rule":"Required"}}`))
	require.NoError(t, err)

	// taken as is: no dot-path splitting
	assert.True(t, tree.HasErrorForField("person.name"))
	assert.False(t, tree.HasErrorForField("person"))
}

func TestParse_LastWriterWins(t *testing.T) {
	tree, err := Parse([]byte(`[
		{"property":"a","rule":"Format","message":"first"},
		{"property":"a.b","rule":"Required"},
		{"property":"a","rule":"Length","message":"second"}
	]`))
	require.NoError(t, err)

	text, ok := tree.HelperTextForField("a")
	assert.True(t, ok)
	assert.Equal(t, "second", text)
	assert.True(t, tree.Field("a").HasErrorForField("b"))
}

func TestParse_EmptyAndInvalid(t *testing.T) {
	tree, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, tree)

	tree, err = Parse([]byte("null"))
	require.NoError(t, err)
	assert.Empty(t, tree)

	_, err = Parse([]byte(`[{"property":1}]`))
	assert.Error(t, err)
}

func TestParse_PreShapedMixedValues(t *testing.T) {
	tree, err := Parse([]byte(`{"name":{"message":"taken"},"error":"Bad credentials","code":42,"odd":{"message":7}}`))
	require.NoError(t, err)
	require.Len(t, tree, 4)

	text, ok := tree.HelperTextForField("name")
	assert.True(t, ok)
	assert.Equal(t, "taken", text)
	assert.Equal(t, "name", tree["name"].Property)

	text, ok = tree.HelperTextForField("error")
	assert.True(t, ok)
	assert.Equal(t, "Bad credentials", text)

	assert.Equal(t, "42", tree["code"].Message)
	assert.Equal(t, `{"message":7}`, tree["odd"].Message)
}
