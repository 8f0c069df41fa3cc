package graph

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type reader interface{ Read() string }

func TestGraphKeepsInsertionOrder(t *testing.T) {
	require := require.New(t)
	g := New(&Definition{ID: "b"}, &Definition{ID: "a"})
	g.Set(&Definition{ID: "c"})
	g.Set(&Definition{ID: "b", Shared: true})

	require.Equal([]string{"b", "a", "c"}, g.IDs())
	b, ok := g.Get("b")
	require.True(ok)
	require.True(b.Shared)

	g.Remove("a")
	g.Remove("missing")
	require.Equal([]string{"b", "c"}, g.IDs())
	require.Equal(2, g.Len())
	require.False(g.Has("a"))
}

func TestFindTagged(t *testing.T) {
	require := require.New(t)
	g := New(
		&Definition{ID: "one", Tags: []Tag{{Name: "reset"}}},
		&Definition{ID: "two"},
		&Definition{ID: "three", Tags: []Tag{{Name: "stateful_service", Attributes: map[string]any{"limit": 4}}, {Name: "reset"}}},
	)
	require.Equal([]string{"one", "three"}, g.FindTagged("reset"))
	require.Equal([]string{"three"}, g.FindTagged("stateful_service"))
	require.Empty(g.FindTagged("nothing"))

	three, _ := g.Get("three")
	limit, ok := three.Attribute("stateful_service", "limit")
	require.True(ok)
	require.Equal(4, limit)
	_, ok = three.Attribute("reset", "method")
	require.False(ok)
}

func TestTagEditing(t *testing.T) {
	require := require.New(t)
	d := &Definition{ID: "svc"}
	d.AddTag("reset", map[string]any{"method": "Reset"})
	d.AddTag("stateful_service", nil)
	d.AddTag("reset", nil)
	require.Len(d.TagsNamed("reset"), 2)

	d.RemoveTag("reset")
	require.False(d.HasTag("reset"))
	require.True(d.HasTag("stateful_service"))
}

func TestCloneIsDeep(t *testing.T) {
	require := require.New(t)
	orig := New(&Definition{
		ID:         "svc",
		Tags:       []Tag{{Name: "stateful_service", Attributes: map[string]any{"limit": 2}}},
		Implements: []reflect.Type{reflect.TypeOf((*reader)(nil)).Elem()},
	})
	c := orig.Clone()
	d, _ := c.Get("svc")
	d.Tags[0].Attributes["limit"] = 9
	d.AddTag("reset", nil)
	d.Implements[0] = nil
	c.Set(&Definition{ID: "extra"})

	o, _ := orig.Get("svc")
	require.Equal(2, o.Tags[0].Attributes["limit"])
	require.False(o.HasTag("reset"))
	require.NotNil(o.Implements[0])
	require.False(orig.Has("extra"))
}
