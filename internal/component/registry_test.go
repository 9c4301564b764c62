package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func usable(name string) *Schema {
	return &Schema{
		Name:    name,
		Inputs:  []Input{{Name: "image", Type: TypeImage}},
		Outputs: []Output{{Type: TypeImage, Name: "image"}},
	}
}

func TestPureName(t *testing.T) {
	assert.Equal(t, "inpaint.ir v2", PureName("## inpaint.ir v2 [deadbe]"))
	assert.Equal(t, "upscale", PureName("##upscale"))
	assert.Equal(t, "plain", PureName("plain"))
}

func TestRegistryOrdering(t *testing.T) {
	r := NewRegistry()
	r.Add(usable("## upscale [000001]"))
	r.Add(&Schema{Name: "## broken [000002]"})
	r.Add(usable("## fill.ir sdxl [000003]"))
	r.Add(usable("## detail [000004]"))
	r.Add(usable("## face.ir fix [000005]"))

	assert.Equal(t, []string{
		"## fill.ir sdxl [000003]",
		"## face.ir fix [000005]",
		"## upscale [000001]",
		"## detail [000004]",
	}, r.Available())
	assert.NotNil(t, r.Get("## broken [000002]"))
	assert.Nil(t, r.Get("missing"))
}

func TestRegistryConflicts(t *testing.T) {
	r := NewRegistry()
	r.Add(usable("## upscale [aaaaaa]"))
	assert.False(t, r.Conflicted("## upscale [aaaaaa]"))

	r.Add(usable("## upscale [bbbbbb]"))
	assert.True(t, r.Conflicted("## upscale [aaaaaa]"))
	assert.Equal(t, []string{"## upscale [aaaaaa]", "## upscale [bbbbbb]"}, r.Versions("## upscale [cccccc]"))

	r.Add(usable("## upscale [bbbbbb]"))
	assert.Len(t, r.Available(), 2, "re-adding replaces")

	r.Remove("## upscale [bbbbbb]")
	assert.False(t, r.Conflicted("## upscale [aaaaaa]"))
	assert.Equal(t, []string{"## upscale [aaaaaa]"}, r.Available())

	r.Remove("## upscale [aaaaaa]")
	r.Remove("## upscale [aaaaaa]")
	assert.Empty(t, r.Available())
}
