package reactive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHost_GetDefault(t *testing.T) {
	h := New(nil)
	assert.Equal(t, "fallback", h.Get("name", "fallback"))

	h.Set("name", "x")
	assert.Equal(t, "x", h.Get("name", "fallback"))
	assert.True(t, h.Has("name"))
	assert.Equal(t, []string{"name"}, h.Names())
}

func TestHost_SetNotifies(t *testing.T) {
	src := struct{ id string }{"n1"}
	h := New(src)

	var got []Change
	h.Subscribe(func(c Change) { got = append(got, c) })

	assert.True(t, h.Set("name", "x"))
	assert.True(t, h.Set("name", "y"))

	require.Len(t, got, 2)
	assert.Equal(t, Change{Name: "name", Old: nil, New: "x", HadOld: false, Source: src}, got[0])
	assert.Equal(t, Change{Name: "name", Old: "x", New: "y", HadOld: true, Source: src}, got[1])
}

func TestHost_UnchangedIsNoop(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"string", "x"},
		{"number", 1.5},
		{"array", [3]float64{1, 2, 3}},
		{"map", map[string]int{"a": 1}},
		{"slice", []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil)
			h.Set("p", tt.value)

			calls := 0
			h.Subscribe(func(Change) { calls++ })

			assert.False(t, h.Set("p", tt.value))
			assert.Equal(t, 0, calls)
		})
	}
}

func TestHost_CustomEquality(t *testing.T) {
	fold := func(a, b any) bool {
		as, _ := a.(string)
		bs, _ := b.(string)
		return strings.EqualFold(as, bs)
	}

	h := New(nil, WithEqual(fold))
	h.Set("name", "Box")

	calls := 0
	h.Subscribe(func(Change) { calls++ })

	assert.False(t, h.Set("name", "BOX"))
	assert.True(t, h.SetWith("name", "BOX", Equal))
	assert.Equal(t, 1, calls)
}

func TestHost_Unset(t *testing.T) {
	h := New(nil)
	assert.False(t, h.Unset("missing"))

	h.Set("layerId", "L1")
	var got Change
	h.Subscribe(func(c Change) { got = c })

	assert.True(t, h.Unset("layerId"))
	assert.Equal(t, "L1", got.Old)
	assert.Nil(t, got.New)
	assert.False(t, h.Has("layerId"))
}

func TestHost_Restore(t *testing.T) {
	h := New(nil)
	h.Set("a", 1)

	h.Restore("a", nil, false)
	assert.False(t, h.Has("a"))

	h.Restore("a", 2, true)
	assert.Equal(t, 2, h.Get("a", nil))
}

func TestHost_SubscriptionCancel(t *testing.T) {
	h := New(nil)

	calls := 0
	sub := h.Subscribe(func(Change) { calls++ })
	assert.Equal(t, 1, h.Listeners())

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, h.Listeners())

	h.Set("a", 1)
	assert.Equal(t, 0, calls)
}

func TestHost_Reentrant(t *testing.T) {
	h := New(nil)

	var order []string
	h.Subscribe(func(c Change) {
		order = append(order, "first:"+c.Name)
		if c.Name == "width" {
			h.Set("area", c.New.(int)*2)
		}
	})
	h.Subscribe(func(c Change) {
		order = append(order, "second:"+c.Name)
	})

	h.Set("width", 3)

	assert.Equal(t, 6, h.Get("area", 0))
	assert.Equal(t, []string{
		"first:width",
		"first:area",
		"second:area",
		"second:width",
	}, order)
}

func TestHost_SubscribeDuringDelivery(t *testing.T) {
	h := New(nil)

	late := 0
	h.Subscribe(func(Change) {
		h.Subscribe(func(Change) { late++ })
	})

	h.Set("a", 1)
	assert.Equal(t, 0, late, "listener added during delivery must not see the current change")

	h.Set("a", 2)
	assert.Equal(t, 1, late)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, 0))
	assert.False(t, Equal(1, 1.0))
	assert.True(t, Equal([]int{1}, []int{1}))
	assert.False(t, Equal(map[string]int{"a": 1}, map[string]int{"a": 2}))
}
