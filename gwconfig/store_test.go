package gwconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObserversRunInPriorityOrder(t *testing.T) {
	store := NewStore(Default())

	var callOrder []string
	record := func(name string) func(ChangeEvent) {
		return func(ChangeEvent) { callOrder = append(callOrder, name) }
	}

	store.Register(ObserverFunc{FuncName: "logging", FuncPriority: 50, Fn: record("logging")})
	store.Register(ObserverFunc{FuncName: "router", FuncPriority: 10, Fn: record("router")})
	store.Register(ObserverFunc{FuncName: "ui-forwarder", FuncPriority: 1000, Fn: record("ui-forwarder")})
	store.Register(ObserverFunc{FuncName: "default-provider", FuncPriority: 5, Fn: record("default-provider")})
	store.Register(ObserverFunc{FuncName: "injector", FuncPriority: 20, Fn: record("injector")})

	store.Update(ChangeFullReload, Default(), SourceSystemInit)

	require.Equal(t, []string{"default-provider", "router", "injector", "logging", "ui-forwarder"}, callOrder)
}

func TestUnregisterRemovesObserver(t *testing.T) {
	store := NewStore(Default())
	calls := 0
	store.Register(ObserverFunc{FuncName: "tracked", FuncPriority: 1, Fn: func(ChangeEvent) { calls++ }})
	store.Unregister("tracked")

	store.Update(ChangeFullReload, Default(), SourceSystemInit)
	require.Equal(t, 0, calls)
	require.Empty(t, store.ObserverNames())
}

func TestObserverPanicDoesNotBlockOtherObservers(t *testing.T) {
	store := NewStore(Default())
	secondRan := false

	store.Register(ObserverFunc{FuncName: "panicky", FuncPriority: 1, Fn: func(ChangeEvent) {
		panic("boom")
	}})
	store.Register(ObserverFunc{FuncName: "second", FuncPriority: 2, Fn: func(ChangeEvent) {
		secondRan = true
	}})

	require.NotPanics(t, func() {
		store.Update(ChangeFullReload, Default(), SourceSystemInit)
	})
	require.True(t, secondRan)
}

func TestSubscribeReceivesChangeEvents(t *testing.T) {
	store := NewStore(Default())
	ch := store.Subscribe()

	updated := Default()
	updated.Server.Port = 1234
	store.Update(ChangeServerChanged, updated, SourceAPICall)

	ev := <-ch
	require.Equal(t, ChangeServerChanged, ev.Kind)
	require.Equal(t, SourceAPICall, ev.Source)
	require.Equal(t, 1234, ev.New.Server.Port)
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	store := NewStore(Default())
	cfg := store.Get()
	cfg.Routing.ModelAliases["foo"] = "bar"

	require.Empty(t, store.Get().Routing.ModelAliases)
}
