package store_test

import (
	"context"
	"fmt"

	"github.com/vango-dev/vstore/pkg/store"
)

type settings struct {
	Theme    string
	FontSize int
}

func ExampleScope() {
	s := store.New(settings{Theme: "light", FontSize: 12})
	theme := store.Scope(s,
		func(v settings) string { return v.Theme },
		func(v *settings, t string) { v.Theme = t },
	)

	sub := theme.Subscribe(false, func(_ context.Context, t string) {
		fmt.Println("theme:", t)
	})
	defer sub.Dispose()

	theme.Set("dark")
	fmt.Println(s.Value())
	// Output:
	// theme: light
	// theme: dark
	// {dark 12}
}

func ExampleStore_Update() {
	s := store.New(0)
	sub := s.Subscribe(false, func(ctx context.Context, n int) {
		if n > 0 && n < 3 {
			s.Update(ctx, func(v *int) { *v = n + 1 })
		}
		fmt.Println(n, s.Value())
	})
	defer sub.Dispose()

	s.Set(1)
	// Output:
	// 0 0
	// 1 1
	// 2 2
	// 3 3
}
