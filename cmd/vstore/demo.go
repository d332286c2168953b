package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/vstore/internal/errors"
	"github.com/vango-dev/vstore/pkg/store"
)

type scenario struct {
	name    string
	summary string
	run     func(ctx context.Context, w io.Writer)
}

var scenarios = []scenario{
	{"order", "subscribers see commits in commit order", demoOrder},
	{"scope", "a scoped write lands in the parent field", demoScope},
	{"unwrapped", "an unwrapped view reads a default while the parent is nil", demoUnwrapped},
	{"recursive", "commits from inside a callback are delivered after the round", demoRecursive},
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios)+1)
	for _, s := range scenarios {
		names = append(names, s.name)
	}
	return append(names, "all")
}

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "demo [scenario]",
		Short:     "Walk through the store's delivery guarantees",
		Long:      "Run one scripted scenario, or all of them.\n\nScenarios: " + strings.Join(scenarioNames(), ", "),
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: scenarioNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "all"
			if len(args) == 1 {
				name = args[0]
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), name)
		},
	}
}

func runDemo(ctx context.Context, w io.Writer, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !slices.Contains(scenarioNames(), name) {
		return errors.New("E403").
			WithDetailf("no scenario named %q", name).
			WithSuggestion("Choose one of: " + strings.Join(scenarioNames(), ", "))
	}

	for _, s := range scenarios {
		if name != "all" && name != s.name {
			continue
		}
		fmt.Fprintf(w, "\n%s: %s\n", s.name, s.summary)
		s.run(ctx, w)
	}
	return nil
}

func demoOrder(ctx context.Context, w io.Writer) {
	s := store.New(0, store.WithName("order"))

	var log []int
	sub := s.Subscribe(false, func(_ context.Context, v int) {
		log = append(log, v)
	})
	defer sub.Dispose()

	s.SetContext(ctx, 1)
	s.SetContext(ctx, 2)
	success(w, "log = %v", log)
}

func demoScope(ctx context.Context, w io.Writer) {
	parent := store.New(store.PairOf(1, "a"), store.WithName("pair"))
	child := store.ScopeLens(parent, store.FirstLens[int, string]())
	info(w, "child = %v", child.Value())

	child.SetContext(ctx, 2)
	success(w, "parent = %v", parent.Value())
}

func demoUnwrapped(ctx context.Context, w io.Writer) {
	type pair = store.Pair[int, string]

	parent := store.New[*pair](nil, store.WithName("optional"))
	child := store.Unwrapped(parent, store.PairOf(0, ""), false)
	info(w, "child = %v while parent is nil", child.Value())

	child.SetContext(ctx, store.PairOf(9, "dropped"))
	info(w, "child = %v after a write into nil", child.Value())

	parent.SetContext(ctx, &pair{First: 5, Second: "x"})
	success(w, "child = %v", child.Value())
}

func demoRecursive(ctx context.Context, w io.Writer) {
	s := store.New(0, store.WithName("recursive"))

	var seen []string
	first := s.Subscribe(true, func(ctx context.Context, v int) {
		seen = append(seen, fmt.Sprintf("a:%d", v))
		if v < 3 {
			s.Update(ctx, func(n *int) { *n = v + 1 })
		}
	})
	defer first.Dispose()
	second := s.Subscribe(true, func(_ context.Context, v int) {
		seen = append(seen, fmt.Sprintf("b:%d", v))
	})
	defer second.Dispose()

	s.SetContext(ctx, 1)
	info(w, "value = %d", s.Value())
	success(w, "each subscriber saw 1, 2, 3 in order: %v", groupBySubscriber(seen))
}

func groupBySubscriber(seen []string) map[string][]string {
	out := make(map[string][]string)
	for _, e := range seen {
		k, v, _ := strings.Cut(e, ":")
		out[k] = append(out[k], v)
	}
	return out
}
