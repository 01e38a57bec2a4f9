package providers

import (
	"context"
	"fmt"
	"iter"
)

// PageFunc fetches one page. cursor is empty for the first page; an empty
// next cursor ends the listing.
type PageFunc[T any] func(ctx context.Context, cursor string) (items []T, next string, err error)

// Paginate turns a page fetcher into a lazy sequence. Ranging over the
// result again starts from the first page. The first error is yielded once
// and ends the sequence.
func Paginate[T any](ctx context.Context, fetch PageFunc[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cursor := ""
		seen := map[string]struct{}{}
		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			items, next, err := fetch(ctx, cursor)
			if err != nil {
				yield(zero, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			if _, repeated := seen[next]; repeated {
				yield(zero, fmt.Errorf("providers: pagination cursor %q repeated", next))
				return
			}
			seen[next] = struct{}{}
			cursor = next
		}
	}
}
