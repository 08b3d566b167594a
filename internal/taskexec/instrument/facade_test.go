package instrument_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"taskexec/internal/taskexec/instrument"
	"taskexec/internal/taskexec/protocol"
)

type mapLoader map[string]map[string]any

func (m mapLoader) Load(model, entityID string) (map[string]any, bool) {
	scalars, ok := m[model+"/"+entityID]
	return scalars, ok
}

func TestFacade_Get_CapturesLoadedValuesAsInitial(t *testing.T) {
	cs := instrument.NewChangeSet()
	loader := mapLoader{"Node/n1": {"title": "loaded"}}
	facade := instrument.NewFacade(cs, loader)

	scalars, ok := facade.Get("Node", "n1")
	require.True(t, ok)
	require.Equal(t, "loaded", scalars["title"])

	modified, _ := cs.Snapshot()
	require.Equal(t, "loaded", modified["Node"]["n1"]["title"].Scalar.Initial)
}

func TestFacade_Get_MissingEntityReturnsFalse(t *testing.T) {
	cs := instrument.NewChangeSet()
	facade := instrument.NewFacade(cs, mapLoader{})

	_, ok := facade.Get("Node", "missing")
	require.False(t, ok)
}

func TestFacade_Set_RoutesThroughSink(t *testing.T) {
	cs := instrument.NewChangeSet()
	facade := instrument.NewFacade(cs, mapLoader{})

	got := facade.Set("Node", "n1", "title", "old", "new")
	require.Equal(t, "new", got)

	modified, _ := cs.Snapshot()
	require.Equal(t, "new", modified["Node"]["n1"]["title"].Scalar.Current)
}

func TestFacade_Append_RoutesThroughSink(t *testing.T) {
	cs := instrument.NewChangeSet()
	facade := instrument.NewFacade(cs, mapLoader{})

	facade.Append("Node", "n1", "children", protocol.ChildEntity{"_MODEL_CLS": "Child"})

	modified, _ := cs.Snapshot()
	require.True(t, modified["Node"]["n1"]["children"].IsCollection())
}

func TestFacade_New_ReturnsTempID(t *testing.T) {
	cs := instrument.NewChangeSet()
	facade := instrument.NewFacade(cs, mapLoader{})

	id := facade.New("Node", map[string]any{"title": "root"})
	require.Equal(t, "NEW_INSTANCE_0", id)

	_, newInstances := cs.Snapshot()
	require.Equal(t, "root", newInstances["Node"]["NEW_INSTANCE_0"]["title"])
}
