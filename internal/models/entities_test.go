package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "file:src/a.ts", FileID("src/a.ts"))
	assert.Equal(t, "directory:.", DirectoryID("."))
	assert.Equal(t, "project:web", ProjectID("web"))
	assert.Equal(t, "method:src/a.ts#Bar.baz", DeclarationID(KindMethod, "src/a.ts", "Bar.baz"))
}

func TestParentDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"index.ts", "."},
		{"src/a.ts", "src"},
		{"src/lib/util.ts", "src/lib"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ParentDir(tt.path))
		})
	}
}

func TestKinds(t *testing.T) {
	t.Parallel()

	assert.True(t, KindMethod.IsDeclaration())
	assert.False(t, KindImport.IsDeclaration())
	assert.False(t, KindFile.IsDeclaration())
	assert.Equal(t, "HAS", LinkHas.RelType())
	assert.Equal(t, "IMPORTS", LinkImport.RelType())
}

func TestWalk(t *testing.T) {
	t.Parallel()

	class := CodeEntity{ID: "class:a.ts#A", Children: []CodeEntity{
		{ID: "method:a.ts#A.x"},
		{ID: "method:a.ts#A.y"},
	}}
	var seen []string
	class.Walk(func(e CodeEntity) { seen = append(seen, e.ID) })
	assert.Equal(t, []string{"class:a.ts#A", "method:a.ts#A.x", "method:a.ts#A.y"}, seen)
}
