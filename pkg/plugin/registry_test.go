package plugin

import (
	"testing"

	"github.com/matryer/is"
)

func TestRegisterAndGet(t *testing.T) {
	is := is.New(t)

	r := &Registry{plugins: make(map[string]map[string]*Plugin)}
	r.Register("tts", "acme", func(cfg map[string]any) (any, error) { return "instance", nil })

	factory, ok := r.Get("tts", "acme")
	is.True(ok)
	instance, err := factory(nil)
	is.NoErr(err)
	is.Equal(instance, "instance")

	_, ok = r.Get("tts", "missing")
	is.True(!ok)
	_, ok = r.Get("stt", "acme")
	is.True(!ok)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	r := &Registry{plugins: make(map[string]map[string]*Plugin)}
	r.Register("llm", "acme", func(cfg map[string]any) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register("llm", "acme", func(cfg map[string]any) (any, error) { return nil, nil })
}

func TestListSortedByKindThenName(t *testing.T) {
	is := is.New(t)

	r := &Registry{plugins: make(map[string]map[string]*Plugin)}
	noop := func(cfg map[string]any) (any, error) { return nil, nil }
	r.Register("tts", "zeta", noop)
	r.Register("stt", "alpha", noop)
	r.Register("tts", "alpha", noop)

	all := r.List("")
	is.Equal(len(all), 3)
	is.Equal(all[0].Kind, "stt")
	is.Equal(all[1].Name, "alpha")
	is.Equal(all[2].Name, "zeta")

	tts := r.List("tts")
	is.Equal(len(tts), 2)

	is.Equal(r.ListKinds(), []string{"stt", "tts"})
}
