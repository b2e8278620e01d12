package events

import (
	"context"

	"github.com/strefethen/kef-hub-go/internal/kef"
)

// StatusFetcher is the part of kef.Connector the comparer needs.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, opts kef.StatusOptions) (kef.StatusRead, error)
}

// Comparer implements poll-by-comparison against a StateStore.
type Comparer struct {
	fetcher StatusFetcher
	store   *StateStore
	opts    kef.StatusOptions
}

func NewComparer(fetcher StatusFetcher, store *StateStore, opts kef.StatusOptions) *Comparer {
	return &Comparer{fetcher: fetcher, store: store, opts: opts}
}

// Compare fetches the complete status, diffs it against the stored snapshot
// and stores the fresh one. Fields whose sub-read failed keep their stored
// values. On a failed fetch the change is empty, the store is left alone and
// the error is returned for logging.
func (c *Comparer) Compare(ctx context.Context) (kef.SpeakerChange, kef.SpeakerStatus, error) {
	read, err := c.fetcher.FetchStatus(ctx, c.opts)
	if err != nil {
		return kef.SpeakerChange{}, c.store.Get(), err
	}
	change, prev := c.store.Swap(read)
	return change, prev, nil
}

// CheckForChanges is the stateless form: it diffs a fresh fetch against last.
// Any fetch error yields an empty change, and fields whose sub-read failed
// are reported as unchanged.
func CheckForChanges(ctx context.Context, fetcher StatusFetcher, opts kef.StatusOptions, last kef.SpeakerStatus) kef.SpeakerChange {
	read, err := fetcher.FetchStatus(ctx, opts)
	if err != nil {
		return kef.SpeakerChange{}
	}
	return Diff(last, read.Over(last))
}
