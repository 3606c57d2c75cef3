package reconcile

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ppiankov/podspectre/internal/models"
)

// DefaultKernelTimeout bounds a single accelerated reconciliation.
const DefaultKernelTimeout = 5 * time.Second

var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Kernel computes identity partitions from encoded identity lists.
// Input is two JSON arrays of {"cluster","namespace","pod"}; output is a JSON
// object with "new", "ongoing" and "resolved" arrays of the same shape.
type Kernel func(today, yesterday []byte) ([]byte, error)

type kernelOutput struct {
	New      []models.PodIdentity `json:"new"`
	Ongoing  []models.PodIdentity `json:"ongoing"`
	Resolved []models.PodIdentity `json:"resolved"`
}

// Accelerated hands identity keys to a sort-merge kernel across an encoding
// boundary and rebuilds full entries from the caller's slices.
type Accelerated struct {
	kernel  Kernel
	timeout time.Duration
}

// AcceleratedOption configures an Accelerated engine
type AcceleratedOption func(*Accelerated)

// WithKernel replaces the merge kernel.
func WithKernel(k Kernel) AcceleratedOption {
	return func(a *Accelerated) {
		if k != nil {
			a.kernel = k
		}
	}
}

// WithKernelTimeout bounds each kernel call. Non-positive values are ignored.
func WithKernelTimeout(d time.Duration) AcceleratedOption {
	return func(a *Accelerated) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAccelerated creates the accelerated engine with the built-in kernel.
func NewAccelerated(opts ...AcceleratedOption) *Accelerated {
	a := &Accelerated{kernel: MergeKernel, timeout: DefaultKernelTimeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements Engine
func (a *Accelerated) Name() string { return "accelerated" }

// Reconcile implements Engine
func (a *Accelerated) Reconcile(ctx context.Context, today, yesterday []models.AbnormalPodEntry) (models.ReconciliationResult, error) {
	today = dedupe(today)
	yesterday = dedupe(yesterday)

	todayKeys, err := json.Marshal(models.Identities(today))
	if err != nil {
		return models.ReconciliationResult{}, fmt.Errorf("encode today keys: %w", err)
	}
	yesterdayKeys, err := json.Marshal(models.Identities(yesterday))
	if err != nil {
		return models.ReconciliationResult{}, fmt.Errorf("encode yesterday keys: %w", err)
	}

	raw, err := a.callKernel(ctx, todayKeys, yesterdayKeys)
	if err != nil {
		return models.ReconciliationResult{}, err
	}

	var out kernelOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.ReconciliationResult{}, fmt.Errorf("decode kernel output: %w", err)
	}

	return rebuild(out, today, yesterday)
}

type kernelReply struct {
	data []byte
	err  error
}

func (a *Accelerated) callKernel(ctx context.Context, today, yesterday []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply := make(chan kernelReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				reply <- kernelReply{err: fmt.Errorf("kernel panic: %v", r)}
			}
		}()
		data, err := a.kernel(today, yesterday)
		reply <- kernelReply{data: data, err: err}
	}()

	select {
	case r := <-reply:
		if r.err != nil {
			return nil, fmt.Errorf("kernel failed: %w", r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("kernel did not finish: %w", ctx.Err())
	}
}

// rebuild maps kernel identity sets back onto full entries, in source order.
// The sets must partition both inputs exactly.
func rebuild(out kernelOutput, today, yesterday []models.AbnormalPodEntry) (models.ReconciliationResult, error) {
	todaySet := identitySet(today)
	yesterdaySet := identitySet(yesterday)

	newSet, err := claim(out.New, "new", func(id models.PodIdentity) bool {
		return has(todaySet, id) && !has(yesterdaySet, id)
	})
	if err != nil {
		return models.ReconciliationResult{}, err
	}
	ongoingSet, err := claim(out.Ongoing, "ongoing", func(id models.PodIdentity) bool {
		return has(todaySet, id) && has(yesterdaySet, id)
	})
	if err != nil {
		return models.ReconciliationResult{}, err
	}
	resolvedSet, err := claim(out.Resolved, "resolved", func(id models.PodIdentity) bool {
		return has(yesterdaySet, id) && !has(todaySet, id)
	})
	if err != nil {
		return models.ReconciliationResult{}, err
	}

	if len(newSet)+len(ongoingSet) != len(todaySet) {
		return models.ReconciliationResult{}, fmt.Errorf("%w: new+ongoing cover %d of %d pods seen today",
			ErrOutOfSync, len(newSet)+len(ongoingSet), len(todaySet))
	}
	if len(resolvedSet)+len(ongoingSet) != len(yesterdaySet) {
		return models.ReconciliationResult{}, fmt.Errorf("%w: resolved+ongoing cover %d of %d pods seen yesterday",
			ErrOutOfSync, len(resolvedSet)+len(ongoingSet), len(yesterdaySet))
	}

	result := emptyResult()
	for _, entry := range today {
		if has(newSet, entry.PodIdentity) {
			result.New = append(result.New, entry)
		} else {
			result.Ongoing = append(result.Ongoing, entry)
		}
	}
	for _, entry := range yesterday {
		if has(resolvedSet, entry.PodIdentity) {
			result.Resolved = append(result.Resolved, entry)
		}
	}
	return result, nil
}

func claim(ids []models.PodIdentity, list string, valid func(models.PodIdentity) bool) (map[models.PodIdentity]struct{}, error) {
	set := make(map[models.PodIdentity]struct{}, len(ids))
	for _, id := range ids {
		if has(set, id) {
			return nil, fmt.Errorf("%w: %s repeated in %s", ErrOutOfSync, id, list)
		}
		if !valid(id) {
			return nil, fmt.Errorf("%w: %s does not belong in %s", ErrOutOfSync, id, list)
		}
		set[id] = struct{}{}
	}
	return set, nil
}

func has(set map[models.PodIdentity]struct{}, id models.PodIdentity) bool {
	_, ok := set[id]
	return ok
}

// MergeKernel sorts both identity lists and walks them once.
func MergeKernel(todayRaw, yesterdayRaw []byte) ([]byte, error) {
	var today, yesterday []models.PodIdentity
	if err := json.Unmarshal(todayRaw, &today); err != nil {
		return nil, fmt.Errorf("decode today keys: %w", err)
	}
	if err := json.Unmarshal(yesterdayRaw, &yesterday); err != nil {
		return nil, fmt.Errorf("decode yesterday keys: %w", err)
	}

	slices.SortFunc(today, compareIdentity)
	slices.SortFunc(yesterday, compareIdentity)
	today = slices.Compact(today)
	yesterday = slices.Compact(yesterday)

	out := kernelOutput{
		New:      []models.PodIdentity{},
		Ongoing:  []models.PodIdentity{},
		Resolved: []models.PodIdentity{},
	}
	i, j := 0, 0
	for i < len(today) && j < len(yesterday) {
		switch c := compareIdentity(today[i], yesterday[j]); {
		case c < 0:
			out.New = append(out.New, today[i])
			i++
		case c > 0:
			out.Resolved = append(out.Resolved, yesterday[j])
			j++
		default:
			out.Ongoing = append(out.Ongoing, today[i])
			i++
			j++
		}
	}
	out.New = append(out.New, today[i:]...)
	out.Resolved = append(out.Resolved, yesterday[j:]...)

	return json.Marshal(out)
}

func compareIdentity(a, b models.PodIdentity) int {
	if c := cmp.Compare(a.Cluster, b.Cluster); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Namespace, b.Namespace); c != 0 {
		return c
	}
	return cmp.Compare(a.Pod, b.Pod)
}
