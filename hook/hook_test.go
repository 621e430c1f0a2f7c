// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package hook_test

import (
	"fmt"
	"io"
	"testing"
	"unsafe"

	combinations "github.com/mxschmitt/golang-combinations"
	"github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/sqreen/go-hookhelper/hook"
	"github.com/sqreen/go-hookhelper/hook/memfn"
	"github.com/sqreen/go-hookhelper/internal/plog"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqsafe"
	"github.com/sqreen/go-hookhelper/internal/sqlib/squnsafe"
	"github.com/sqreen/go-hookhelper/tools/testlib"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// Functions standing for the original code reached through the backups.
func originalFoo(a int) int { return a + 1 }
func otherFoo(a int) int    { return a - 1 }

func replacementFoo(a int) int { return a * 100 }

type object struct {
	id int
}

func (o *object) Method(base int) int { return o.id + base }

func originalGetID(o *object, base int) int { return o.id + base }

func replacementGetID(*object, int) int { return -1 }

var globalCounter uint64

func newFooHookers(names ...string) []*hook.Hooker[func(int) int] {
	hookers := make([]*hook.Hooker[func(int) int], len(names))
	for i, name := range names {
		hookers[i] = hook.Must(hook.NewHooker(hook.Sym(name), replacementFoo))
	}
	return hookers
}

func asDescriptors(hookers []*hook.Hooker[func(int) int]) []hook.Descriptor {
	descriptors := make([]hook.Descriptor, len(hookers))
	for i, h := range hookers {
		descriptors[i] = h
	}
	return descriptors
}

func newTestInstaller(h hook.Handler, errChan chan error, out io.Writer, opts ...hook.Option) *hook.Installer {
	if out == nil {
		out = io.Discard
	}
	opts = append([]hook.Option{hook.WithLogger(plog.NewLogger(plog.Error, out, errChan))}, opts...)
	return hook.NewInstaller(h, opts...)
}

func TestSymbol(t *testing.T) {
	s := hook.Sym("foo_v1")
	require.Equal(t, "foo_v1", s.Name())
	require.Zero(t, s.Addr())
	require.False(t, s.MatchPrefix())
	require.Equal(t, "foo_v1", s.String())
	require.Equal(t, hook.Sym("foo_v1"), s)
	require.False(t, s.IsZero())

	p := hook.SymPrefix("_ZN3art9ArtMethod6Invoke")
	require.True(t, p.MatchPrefix())
	require.Equal(t, "_ZN3art9ArtMethod6Invoke*", p.String())

	a := hook.SymAt("entry_point", 0x1234)
	require.Equal(t, uintptr(0x1234), a.Addr())
	require.Equal(t, "entry_point@0x1234", a.String())

	require.True(t, hook.Symbol{}.IsZero())
	require.Panics(t, func() { hook.Sym("") })
	require.Panics(t, func() { hook.SymPrefix(" ") })
	require.Panics(t, func() { hook.SymAt("", 1) })
}

func TestNewHooker(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		h, err := hook.NewHooker(hook.Sym("foo"), replacementFoo)
		require.NoError(t, err)
		require.Equal(t, hook.Sym("foo"), h.Symbol())
		require.False(t, h.Installed())
		require.Nil(t, h.Backup())
		require.Equal(t, replacementFoo(2), h.Replacement()(2))
		require.Equal(t, "foo", fmt.Sprint(h))
	})

	t.Run("zero symbol", func(t *testing.T) {
		_, err := hook.NewHooker(hook.Symbol{}, replacementFoo)
		require.Error(t, err)
	})

	t.Run("nil replacement", func(t *testing.T) {
		_, err := hook.NewHooker[func(int) int](hook.Sym("foo"), nil)
		require.Error(t, err)
	})

	t.Run("not a function", func(t *testing.T) {
		_, err := hook.NewHooker(hook.Sym("foo"), 33)
		require.Error(t, err)
	})

	t.Run("method value", func(t *testing.T) {
		o := &object{}
		_, err := hook.NewHooker(hook.Sym("foo"), o.Method)
		require.Error(t, err)
	})

	t.Run("function literal", func(t *testing.T) {
		// Only method values are detected.
		h, err := hook.NewHooker(hook.Sym("foo"), func(a int) int { return a })
		require.NoError(t, err)
		require.Equal(t, 3, h.Replacement()(3))
	})

	t.Run("must", func(t *testing.T) {
		require.Panics(t, func() { hook.Must(hook.NewHooker(hook.Sym("foo"), 33)) })
	})
}

func TestNewMemHooker(t *testing.T) {
	h, err := hook.NewMemHooker(hook.Sym("_ZN3art6Object5GetIdEi"), replacementGetID)
	require.NoError(t, err)
	require.False(t, h.Installed())
	require.False(t, h.Backup().IsSet())

	_, err = hook.NewMemHooker(hook.Sym("no_receiver"), func() {})
	require.Error(t, err)

	// Method expressions have the receiver-first shape.
	_, err = hook.NewMemHooker(hook.Sym("method_expression"), (*object).Method)
	require.NoError(t, err)
}

func TestDlsym(t *testing.T) {
	h := newFakeHandler().define("art_exact", 0x10, 0)
	h.prefixes["art_pre"] = 0x20
	i := newTestInstaller(h, nil, nil)

	t.Run("exact match", func(t *testing.T) {
		require.Equal(t, uintptr(0x10), i.Dlsym("art_exact", true))
		require.Empty(t, h.prefixQueries)
	})

	t.Run("prefix match not requested", func(t *testing.T) {
		require.Zero(t, i.Dlsym("art_pre", false))
		require.Empty(t, h.prefixQueries)
	})

	t.Run("prefix match", func(t *testing.T) {
		require.Equal(t, uintptr(0x20), i.Dlsym("art_pre", true))
		require.Equal(t, []string{"art_pre"}, h.prefixQueries)
	})

	t.Run("handler without prefix resolver", func(t *testing.T) {
		i := newTestInstaller(exactOnlyHandler{h: h}, nil, nil)
		require.Zero(t, i.Dlsym("art_pre", true))
	})

	t.Run("init info", func(t *testing.T) {
		info := hook.InitInfo{
			SymbolResolver: func(name string) uintptr {
				if name == "art_exact" {
					return 1
				}
				return 0
			},
		}
		i := newTestInstaller(info, nil, nil)
		require.Equal(t, uintptr(1), i.Dlsym("art_exact", true))
		require.Zero(t, i.Dlsym("art_pre", true))
		require.Zero(t, hook.InitInfo{}.InlineHook(1, 2))
		require.Zero(t, hook.InitInfo{}.ResolveExact("art_exact"))
	})
}

func TestHookAt(t *testing.T) {
	backup := squnsafe.FuncPC(originalFoo)
	h := newFakeHandler()
	h.backups[0x4000] = backup
	i := newTestInstaller(h, nil, nil)

	t.Run("nil target", func(t *testing.T) {
		d := newFooHookers("foo")[0]
		require.False(t, i.HookAt(0, d))
		require.False(t, d.Installed())
		require.Nil(t, d.Backup())
		require.Empty(t, h.installs)
	})

	t.Run("target", func(t *testing.T) {
		d := newFooHookers("foo")[0]
		require.True(t, i.HookAt(0x4000, d))
		require.True(t, d.Installed())
		require.Equal(t, backup, squnsafe.FuncPC(d.Backup()))
		require.Equal(t, originalFoo(9), d.Backup()(9))
		require.Equal(t, []install{{target: 0x4000, replacement: squnsafe.FuncPC(replacementFoo)}}, h.installs)
		require.Equal(t, "foo (installed)", fmt.Sprint(d))
	})
}

func TestHook(t *testing.T) {
	t.Run("fixed address", func(t *testing.T) {
		h := newFakeHandler()
		h.backups[0x4242] = squnsafe.FuncPC(originalFoo)
		i := newTestInstaller(h, nil, nil)

		d := hook.Must(hook.NewHooker(hook.SymAt("foo_offset", 0x4242), replacementFoo))
		require.True(t, i.Hook(d, false))
		require.True(t, d.Installed())
		require.Empty(t, h.queries)
	})

	t.Run("no fixed address", func(t *testing.T) {
		h := newFakeHandler().define("foo", 0x1000, squnsafe.FuncPC(originalFoo))
		i := newTestInstaller(h, nil, nil)

		d := newFooHookers("foo")[0]
		require.False(t, i.Hook(d, false))
		require.False(t, d.Installed())
		require.Empty(t, h.installs)
	})

	t.Run("resolved symbol", func(t *testing.T) {
		h := newFakeHandler().define("foo", 0x1000, squnsafe.FuncPC(originalFoo))
		i := newTestInstaller(h, nil, nil)

		d := newFooHookers("foo")[0]
		require.True(t, i.Hook(d, true))
		require.Equal(t, []string{"foo"}, h.queries)
		require.Equal(t, originalFoo(1), d.Backup()(1))
	})

	t.Run("unresolved symbol is silent", func(t *testing.T) {
		errChan := make(chan error, 1)
		i := newTestInstaller(newFakeHandler(), errChan, nil)

		d := newFooHookers("foo")[0]
		require.False(t, i.Hook(d, true))
		require.Len(t, errChan, 0)
	})

	t.Run("double installation is deterministic", func(t *testing.T) {
		h := newFakeHandler().define("foo", 0x1000, squnsafe.FuncPC(originalFoo))
		i := newTestInstaller(h, nil, nil)

		d := newFooHookers("foo")[0]
		require.True(t, i.Hook(d, true))
		require.Equal(t, originalFoo(1), d.Backup()(1))

		// The caller must prevent it: the primitive is called again and the
		// backup is overwritten with its new result.
		h.backups[0x1000] = squnsafe.FuncPC(otherFoo)
		require.True(t, i.Hook(d, true))
		require.Len(t, h.installs, 2)
		require.Equal(t, h.installs[0], h.installs[1])
		require.Equal(t, otherFoo(1), d.Backup()(1))
	})
}

func TestHookAny(t *testing.T) {
	t.Run("example scenario", func(t *testing.T) {
		const x = uintptr(0x7000)
		y := squnsafe.FuncPC(originalFoo)
		h := newFakeHandler().define("foo_v2", x, y)
		i := newTestInstaller(h, nil, nil)

		hookers := newFooHookers("foo_v1", "foo_v2")
		require.True(t, i.HookAny(hookers[0], hookers[1]))

		require.False(t, hookers[0].Installed())
		require.Nil(t, hookers[0].Backup())
		require.True(t, hookers[1].Installed())
		require.Equal(t, y, squnsafe.FuncPC(hookers[1].Backup()))
		require.Equal(t, originalFoo(41), hookers[1].Backup()(41))
		require.Equal(t, []install{{target: x, replacement: squnsafe.FuncPC(replacementFoo)}}, h.installs)
	})

	t.Run("order sensitivity", func(t *testing.T) {
		h := newFakeHandler().
			define("B", 0xb000, squnsafe.FuncPC(originalFoo)).
			define("C", 0xc000, squnsafe.FuncPC(otherFoo))
		i := newTestInstaller(h, nil, nil)

		hookers := newFooHookers("A", "B", "C")
		require.True(t, i.HookAny(hookers[0], hookers[1], hookers[2]))
		require.Equal(t, []string{"A", "B"}, h.queries)
		require.False(t, hookers[0].Installed())
		require.True(t, hookers[1].Installed())
		require.False(t, hookers[2].Installed())
		require.Len(t, h.installs, 1)
	})

	t.Run("prefix candidate", func(t *testing.T) {
		h := newFakeHandler()
		h.prefixes["_ZN3art6Object5GetId"] = 0x3000
		h.backups[0x3000] = squnsafe.FuncPC(originalGetID)
		i := newTestInstaller(h, nil, nil)

		exact := hook.Must(hook.NewMemHooker(hook.Sym("_ZN3art6Object5GetIdEi"), replacementGetID))
		prefix := hook.Must(hook.NewMemHooker(hook.SymPrefix("_ZN3art6Object5GetId"), replacementGetID))
		require.True(t, i.HookAny(exact, prefix))
		require.Equal(t, []string{"_ZN3art6Object5GetId"}, h.prefixQueries)
		require.False(t, exact.Installed())
		require.True(t, prefix.Installed())

		backup := prefix.Backup()
		require.Equal(t, memfn.Plain, backup.Kind())
		o := &object{id: 3}
		require.Equal(t, originalGetID(o, 4), backup.Func()(o, 4))
		require.Equal(t, []interface{}{7}, backup.Call(o, 4))
	})

	t.Run("exhausted candidates", func(t *testing.T) {
		g := gomega.NewGomegaWithT(t)
		output := gbytes.NewBuffer()
		errChan := make(chan error, 8)
		h := newFakeHandler()
		i := newTestInstaller(h, errChan, output)

		hookers := newFooHookers("foo_v1", "foo_v2")
		require.False(t, i.HookAny(hookers[0], hookers[1]))
		require.False(t, hookers[0].Installed())
		require.False(t, hookers[1].Installed())
		require.Empty(t, h.installs)
		require.Equal(t, []string{"foo_v1", "foo_v2"}, h.queries)

		require.Len(t, errChan, 1)
		err := <-errChan
		require.Equal(t, hook.FailureRecord{
			Event:  hook.FailureEvent,
			Symbol: "foo_v1",
			Tag:    plog.DefaultTag,
		}, sqerrors.Info(err))
		key, ok := sqerrors.Key(err)
		require.True(t, ok)
		require.Equal(t, "foo_v1", key)
		var failure *hook.FailureError
		require.True(t, xerrors.As(err, &failure))
		require.Equal(t, 2, failure.Candidates)
		require.Empty(t, failure.Errors)

		g.Expect(output).Should(gbytes.Say("HookHelper/error - .* - hook installation failed: symbol `foo_v1` \\(2 candidates\\)"))
	})

	t.Run("diagnostic logger", func(t *testing.T) {
		logger := &testlib.ErrorLoggerMockup{}
		logger.On("Error", mock.MatchedBy(func(err error) bool {
			record, ok := sqerrors.Info(err).(hook.FailureRecord)
			return ok && record.Symbol == "foo_v1" && record.Tag == "LSPlant"
		})).Return().Once()
		i := hook.NewInstaller(newFakeHandler(), hook.WithErrorLogger(logger), hook.WithTag("LSPlant"))

		hookers := newFooHookers("foo_v1", "foo_v2", "foo_v3")
		require.False(t, i.HookAny(hookers[0], hookers[1], hookers[2]))
		logger.AssertExpectations(t)
		logger.AssertNumberOfCalls(t, "Error", 1)
	})

	t.Run("failed candidates", func(t *testing.T) {
		newHandler := func() *fakeHandler {
			h := newFakeHandler().
				define("foo_a", 0xa000, squnsafe.FuncPC(otherFoo)).
				define("foo_b", 0xb000, 0).
				define("foo_c", 0xc000, squnsafe.FuncPC(originalFoo))
			h.panics[0xa000] = true
			return h
		}

		for _, tc := range []struct {
			name     string
			first    string
			target   uintptr
			panicked bool
		}{
			{name: "inline hook panic", first: "foo_a", target: 0xa000, panicked: true},
			{name: "nil backup", first: "foo_b", target: 0xb000},
		} {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				h := newHandler()
				errChan := make(chan error, 8)
				i := newTestInstaller(h, errChan, nil)

				// The next candidates resolve but the point is never patched twice.
				hookers := newFooHookers(tc.first, "foo_c")
				require.False(t, i.HookAny(hookers[0], hookers[1]))
				require.False(t, hookers[0].Installed())
				require.Nil(t, hookers[0].Backup())
				require.False(t, hookers[1].Installed())
				require.Equal(t, []string{tc.first}, h.queries)
				require.Equal(t, []install{{target: tc.target, replacement: squnsafe.FuncPC(replacementFoo)}}, h.installs)

				require.Len(t, errChan, 1)
				var failure *hook.FailureError
				require.True(t, xerrors.As(<-errChan, &failure))
				require.Equal(t, tc.first, failure.Symbol)
				require.Equal(t, 2, failure.Candidates)
				require.Len(t, failure.Errors, 1)
				var panicErr *sqsafe.PanicError
				require.Equal(t, tc.panicked, xerrors.As(failure.Errors[0], &panicErr))
			})
		}

		t.Run("unresolved candidates before the failed one", func(t *testing.T) {
			h := newHandler()
			i := newTestInstaller(h, nil, nil)

			hookers := newFooHookers("foo_missing", "foo_b", "foo_c")
			require.False(t, i.HookAny(hookers[0], hookers[1], hookers[2]))
			require.Equal(t, []string{"foo_missing", "foo_b"}, h.queries)
			require.Len(t, h.installs, 1)
		})
	})

	t.Run("unresolved candidates are not logged", func(t *testing.T) {
		g := gomega.NewGomegaWithT(t)
		output := gbytes.NewBuffer()
		h := newFakeHandler().define("foo_v2", 0x7000, squnsafe.FuncPC(originalFoo))
		i := hook.NewInstaller(h, hook.WithLogger(plog.NewLogger(plog.Debug, output, nil)))

		hookers := newFooHookers("foo_v1", "foo_v2")
		require.True(t, i.HookAny(hookers[0], hookers[1]))
		g.Expect(output).Should(gbytes.Say("HookHelper/debug - .* - hook: symbol `foo_v2` at 0x7000 hooked"))
		g.Expect(string(output.Contents())).ShouldNot(gomega.ContainSubstring("foo_v1"))
	})
}

// TestHookAnyCandidateSets checks every set of resolvable candidates: the
// first resolvable candidate in declaration order is the only one installed
// and the next ones are never resolved.
func TestHookAnyCandidateSets(t *testing.T) {
	names := []string{"art_a", "art_b", "art_c", "art_d"}
	sets := append([][]string{nil}, combinations.All(names)...)

	for _, resolvable := range sets {
		resolvable := resolvable
		t.Run(fmt.Sprint(resolvable), func(t *testing.T) {
			h := newFakeHandler()
			isResolvable := make(map[string]bool, len(resolvable))
			for k, name := range resolvable {
				h.define(name, uintptr(0x1000*(k+1)), squnsafe.FuncPC(originalFoo))
				isResolvable[name] = true
			}
			errChan := make(chan error, 8)
			i := newTestInstaller(h, errChan, nil)

			hookers := newFooHookers(names...)
			candidates := asDescriptors(hookers)
			ok := i.HookAny(candidates[0], candidates[1:]...)

			winner := -1
			for k, name := range names {
				if isResolvable[name] {
					winner = k
					break
				}
			}

			if winner == -1 {
				require.False(t, ok)
				require.Len(t, errChan, 1)
				require.Equal(t, names, h.queries)
				require.Empty(t, h.installs)
				for _, d := range hookers {
					require.False(t, d.Installed())
				}
				return
			}

			require.True(t, ok)
			require.Len(t, errChan, 0)
			require.Equal(t, names[:winner+1], h.queries)
			require.Len(t, h.installs, 1)
			for k, d := range hookers {
				require.Equal(t, k == winner, d.Installed(), d.Symbol().Name())
			}
		})
	}
}

func TestRetrieve(t *testing.T) {
	h := newFakeHandler().
		define("art_new", squnsafe.FuncPC(originalFoo), 0).
		define("art_get_id", squnsafe.FuncPC(originalGetID), 0).
		define("art_counter", uintptr(unsafe.Pointer(&globalCounter)), 0)
	i := newTestInstaller(h, nil, nil)

	t.Run("function", func(t *testing.T) {
		var fn hook.Func[func(int) int]
		require.False(t, fn.Resolved())
		require.True(t, i.Retrieve(&fn, hook.Sym("art_new_v1"), hook.Sym("art_new"), hook.Sym("art_new_v3")))
		require.True(t, fn.Resolved())
		require.Equal(t, hook.Sym("art_new"), fn.Symbol())
		require.Equal(t, originalFoo(1), fn.Get()(1))
		require.NotContains(t, h.queries, "art_new_v3")
	})

	t.Run("member function", func(t *testing.T) {
		var fn hook.MemFunc[func(*object, int) int]
		require.True(t, i.Retrieve(&fn, hook.Sym("art_get_id")))
		o := &object{id: 10}
		require.Equal(t, 12, fn.Get().Func()(o, 2))
	})

	t.Run("field", func(t *testing.T) {
		var field hook.Field[uint64]
		require.True(t, i.Retrieve(&field, hook.Sym("art_counter")))
		require.Equal(t, &globalCounter, field.Get())
		*field.Get() = 33
		require.Equal(t, uint64(33), globalCounter)
	})

	t.Run("fixed address", func(t *testing.T) {
		var fn hook.Func[func(int) int]
		queries := len(h.queries)
		require.True(t, i.Retrieve(&fn, hook.SymAt("foo", squnsafe.FuncPC(otherFoo))))
		require.Equal(t, otherFoo(1), fn.Get()(1))
		require.Len(t, h.queries, queries)
	})

	t.Run("not found", func(t *testing.T) {
		var fn hook.Func[func(int) int]
		require.False(t, i.Retrieve(&fn, hook.Sym("art_missing")))
		require.False(t, fn.Resolved())
		require.Nil(t, fn.Get())
	})

	t.Run("not a function", func(t *testing.T) {
		var fn hook.Func[int]
		require.False(t, i.Retrieve(&fn, hook.Sym("art_new")))
		require.False(t, fn.Resolved())
	})

	require.Empty(t, h.installs)
}
