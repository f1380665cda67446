package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLookup(t *testing.T) {
	cat := New(
		Field{Name: "status", Type: FieldTypeEnum, Options: []string{"open", "closed"}},
		Field{Name: "notes", Type: FieldTypeText},
	)

	f, ok := cat.Field("status")
	require.True(t, ok)
	assert.Equal(t, FieldTypeEnum, f.Type)
	assert.True(t, f.HasOption("open"))
	assert.False(t, f.HasOption("pending"))

	_, ok = cat.Field("missing")
	assert.False(t, ok)
}

func TestCatalogFieldsPreserveOrder(t *testing.T) {
	cat := New(
		Field{Name: "b"},
		Field{Name: "a"},
		Field{Name: "c"},
	)

	fields := cat.Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, "b", fields[0].Name)
	assert.Equal(t, "a", fields[1].Name)
	assert.Equal(t, "c", fields[2].Name)
}

func TestDefaultCatalog(t *testing.T) {
	cat := Default()

	priority, ok := cat.Field("priority")
	require.True(t, ok)
	assert.Equal(t, FieldTypeEnum, priority.Type)
	assert.True(t, priority.HasOption("emergency"))

	age, ok := cat.Field("age_days")
	require.True(t, ok)
	assert.Equal(t, FieldTypeNumber, age.Type)

	description, ok := cat.Field("description")
	require.True(t, ok)
	assert.Equal(t, FieldTypeText, description.Type)
	assert.Empty(t, description.Options)
}
