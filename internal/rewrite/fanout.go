package rewrite

import (
	"errors"

	"golang.org/x/sync/errgroup"
)

// defaultConcurrency は1つの分岐点で同時に実行するgoroutineの既定の上限。
const defaultConcurrency = 16

// fanOut はitemsの各要素に対してfnを並列に実行し、全件の完了を待つ。
// fnは要素へのポインタを受け取り、その場で書き換えてよい。
// 失敗した要素のエラーはerrors.Joinで1つにまとめて返す（1件の失敗で他の要素は止めない）。
func fanOut[T any](limit int, items []T, fn func(i int, item *T) error) error {
	if len(items) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = defaultConcurrency
	}

	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(limit)

	for i := range items {
		g.Go(func() error {
			errs[i] = fn(i, &items[i])
			return nil
		})
	}

	g.Wait()

	return errors.Join(errs...)
}

// fanOutDetached はfanOutと同様に並列実行して完了を待つが、
// 要素ごとのエラーは呼び出し元へ返さずonErrorに渡して破棄する。
func fanOutDetached[T any](limit int, items []T, fn func(i int, item *T) error, onError func(i int, err error)) {
	if len(items) == 0 {
		return
	}
	if limit <= 0 {
		limit = defaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i := range items {
		g.Go(func() error {
			if err := fn(i, &items[i]); err != nil {
				onError(i, err)
			}
			return nil
		})
	}

	g.Wait()
}
