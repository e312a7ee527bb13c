package gwconfig

// Observer reacts to config changes. Priority determines call order within
// a single notification — lower values run first (spec.md §4.A, ported
// from the prior implementation's ConfigSubject BTreeMap<priority, Vec<...>>
// registry). The well-known priorities used by this gateway's own observers
// are documented where each is constructed in cmd/gateway:
//
//	DefaultProviderRef: 5   Router: 10   Injector: 20
//	Endpoint: 30            Logging: 50  UI-forwarder: 1000
type Observer interface {
	Name() string
	Priority() int
	OnConfigChanged(ev ChangeEvent)
}

// ObserverFunc adapts a plain function to the Observer interface for
// stateless observers (e.g. the logging observer).
type ObserverFunc struct {
	FuncName     string
	FuncPriority int
	Fn           func(ChangeEvent)
}

func (f ObserverFunc) Name() string               { return f.FuncName }
func (f ObserverFunc) Priority() int               { return f.FuncPriority }
func (f ObserverFunc) OnConfigChanged(ev ChangeEvent) { f.Fn(ev) }
