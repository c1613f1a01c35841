package reconcile

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"fimd/internal/event"
)

// DefaultThreshold is the range size below which a disagreeing range is
// enumerated path by path instead of bisected further.
const DefaultThreshold = 16

// Diff describes how the remote view diverges from the local one.
type Diff struct {
	OnlyLocal  []string // paths the remote is missing
	OnlyRemote []string // paths the remote holds that the local set does not
	Changed    []string // paths present on both sides with different checksums
}

// Empty reports whether the two views agree.
func (d *Diff) Empty() bool {
	return len(d.OnlyLocal) == 0 && len(d.OnlyRemote) == 0 && len(d.Changed) == 0
}

// Total returns the number of diverging paths.
func (d *Diff) Total() int {
	return len(d.OnlyLocal) + len(d.OnlyRemote) + len(d.Changed)
}

func (d *Diff) merge(o Diff) {
	d.OnlyLocal = append(d.OnlyLocal, o.OnlyLocal...)
	d.OnlyRemote = append(d.OnlyRemote, o.OnlyRemote...)
	d.Changed = append(d.Changed, o.Changed...)
}

func (d *Diff) sort() {
	sort.Strings(d.OnlyLocal)
	sort.Strings(d.OnlyRemote)
	sort.Strings(d.Changed)
}

// Reconciler compares a local view against a remote one.
type Reconciler struct {
	local     View
	remote    View
	threshold int64
	events    chan<- event.Event
	log       *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithThreshold overrides the bisection cutoff.
func WithThreshold(n int64) Option {
	return func(r *Reconciler) { r.threshold = n }
}

// WithEvents attaches a progress event channel.
func WithEvents(ch chan<- event.Event) Option {
	return func(r *Reconciler) { r.events = ch }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

// New creates a reconciler comparing local against remote.
func New(local, remote View, opts ...Option) *Reconciler {
	r := &Reconciler{
		local:     local,
		remote:    remote,
		threshold: DefaultThreshold,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run compares both views and returns the divergence. A matching aggregate
// checksum returns an empty diff after a single comparison on each side.
func (r *Reconciler) Run(ctx context.Context) (Diff, error) {
	cycle := uuid.New()
	event.Emit(r.events, event.Event{Type: event.ReconcileStarted, Cycle: cycle})

	diff, err := r.run(ctx)
	if err != nil {
		return Diff{}, err
	}
	diff.sort()

	event.Emit(r.events, event.Event{Type: event.ReconcileComplete, Cycle: cycle, Total: int64(diff.Total())})
	r.log.Info("reconcile complete",
		"cycle", cycle,
		"only_local", len(diff.OnlyLocal),
		"only_remote", len(diff.OnlyRemote),
		"changed", len(diff.Changed))
	return diff, nil
}

func (r *Reconciler) run(ctx context.Context) (Diff, error) {
	lFirst, lLast, lOK, err := r.local.Bounds()
	if err != nil {
		return Diff{}, err
	}
	rFirst, rLast, rOK, err := r.remote.Bounds()
	if err != nil {
		return Diff{}, err
	}

	switch {
	case !lOK && !rOK:
		return Diff{}, nil
	case !lOK:
		items, err := r.remote.Items(rFirst, rLast)
		if err != nil {
			return Diff{}, err
		}
		return Diff{OnlyRemote: paths(items)}, nil
	case !rOK:
		items, err := r.local.Items(lFirst, lLast)
		if err != nil {
			return Diff{}, err
		}
		return Diff{OnlyLocal: paths(items)}, nil
	}

	start, end := min(lFirst, rFirst), max(lLast, rLast)
	return r.reconcileRange(ctx, start, end)
}

// reconcileRange compares [start, end] on both sides. Matching checksums
// end the recursion; small disagreeing ranges are enumerated; large ones
// split at the local median.
func (r *Reconciler) reconcileRange(ctx context.Context, start, end string) (Diff, error) {
	if err := ctx.Err(); err != nil {
		return Diff{}, err
	}

	lsum, err := r.local.Checksum(start, end)
	if err != nil {
		return Diff{}, err
	}
	rsum, err := r.remote.Checksum(start, end)
	if err != nil {
		return Diff{}, err
	}
	if lsum == rsum {
		return Diff{}, nil
	}

	ln, err := r.local.Count(start, end)
	if err != nil {
		return Diff{}, err
	}
	rn, err := r.remote.Count(start, end)
	if err != nil {
		return Diff{}, err
	}
	if max(ln, rn) <= r.threshold || ln < 2 {
		return r.enumerate(start, end)
	}

	mid, err := r.local.Median(start, end)
	if err != nil {
		return Diff{}, err
	}
	if mid == end {
		// Degenerate split, the median is the upper bound itself.
		return r.enumerate(start, end)
	}

	left, err := r.reconcileRange(ctx, start, mid)
	if err != nil {
		return Diff{}, err
	}
	right, err := r.reconcileRange(ctx, succ(mid), end)
	if err != nil {
		return Diff{}, err
	}
	left.merge(right)
	return left, nil
}

// enumerate diffs a range by listing both sides and walking the two
// ordered lists in lockstep.
func (r *Reconciler) enumerate(start, end string) (Diff, error) {
	lItems, err := r.local.Items(start, end)
	if err != nil {
		return Diff{}, err
	}
	rItems, err := r.remote.Items(start, end)
	if err != nil {
		return Diff{}, err
	}

	var d Diff
	i, j := 0, 0
	for i < len(lItems) && j < len(rItems) {
		l, rr := lItems[i], rItems[j]
		switch {
		case l.Path < rr.Path:
			d.OnlyLocal = append(d.OnlyLocal, l.Path)
			i++
		case l.Path > rr.Path:
			d.OnlyRemote = append(d.OnlyRemote, rr.Path)
			j++
		default:
			if l.Checksum != rr.Checksum {
				d.Changed = append(d.Changed, l.Path)
			}
			i++
			j++
		}
	}
	for ; i < len(lItems); i++ {
		d.OnlyLocal = append(d.OnlyLocal, lItems[i].Path)
	}
	for ; j < len(rItems); j++ {
		d.OnlyRemote = append(d.OnlyRemote, rItems[j].Path)
	}
	return d, nil
}

func paths(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Path
	}
	return out
}

// succ returns the smallest string ordering strictly above s, so the two
// inclusive halves of a split do not overlap at the median.
func succ(s string) string {
	return s + "\x00"
}
