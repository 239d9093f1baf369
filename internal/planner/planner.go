// Package planner implements the runtime's Transfer Planner: a pure
// function over configured content types and a SourceProvider that emits
// a feasible, deterministic transfer plan.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dangerprep/syncrt/core"
)

// Direction is a content type's sync direction.
type Direction string

const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionToDestination Direction = "to_destination"
	DirectionFromSource    Direction = "from_source"
)

// ItemMetadata is the subset of an enumerated item's attributes filters and
// priority rules can inspect.
type ItemMetadata struct {
	Name         string
	SizeBytes    int64
	ModifiedAt   int64 // unix seconds; avoids a time.Time dependency on enumeration order
	Extension    string
}

// Item is one candidate unit a SourceProvider can enumerate.
type Item struct {
	Ref           string
	Metadata      ItemMetadata
	EstimatedBytes int64
}

// SourceProvider enumerates candidate items for a content type. Failures
// propagate as classified errors (spec §6); a partial failure mid-
// enumeration should return the items collected so far alongside the
// error, which the planner records as a warning rather than aborting the
// whole plan.
type SourceProvider interface {
	Enumerate(ctx context.Context, contentType string) ([]Item, error)
}

// Filter is a predicate over item metadata. Filters are applied in order;
// the first filter that returns false excludes the item (spec §4.7 step
// 1b: short-circuit on first false).
type Filter func(meta ItemMetadata) bool

// PriorityRule contributes weight × matches(item) to an item's score.
type PriorityRule struct {
	Name    string
	Weight  float64
	Matches func(meta ItemMetadata) bool
}

// ContentType is the planner's configuration unit (spec §3 Content Type).
type ContentType struct {
	Name          string
	Priority      int
	MaxSizeBytes  int64
	Direction     Direction
	Filters       []Filter
	PriorityRules []PriorityRule

	// Schedule is the cron expression the Sync Service Host registers
	// this content type's own sync cycle under (spec §3's `schedule?`
	// field). The planner itself never reads it; Plan() is a pure
	// function of configuration and enumeration, not of timing.
	Schedule string

	// BandwidthLimitBytesSec caps the sustained transfer rate the Host
	// allows a Transferor for this content type's transfers (spec §1
	// "bandwidth caps"); zero means unlimited. Like Schedule, Plan()
	// never reads this — only the Host, which builds the rate limiter a
	// Transferor consults.
	BandwidthLimitBytesSec int64
}

// PlannedTransfer is one item selected for transfer.
type PlannedTransfer struct {
	ContentType    string
	SourceRef      string
	DestinationRef string
	EstimatedBytes int64
	PriorityScore  float64
}

// Plan is the planner's output.
type Plan struct {
	Transfers []PlannedTransfer
	Warnings  []string
}

// Plan builds a feasible, deterministic transfer plan for contentTypes
// against provider, following spec §4.7's exact algorithm: content types
// are processed in ascending priority order; within each, candidates are
// filtered, scored, sorted (score desc, name asc), then budget-walked —
// continuing past the first over-budget item so smaller later items can
// still fit.
func Plan(ctx context.Context, contentTypes []ContentType, provider SourceProvider) (Plan, error) {
	ordered := make([]ContentType, len(contentTypes))
	copy(ordered, contentTypes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	var plan Plan

	for _, ct := range ordered {
		items, err := provider.Enumerate(ctx, ct.Name)
		if err != nil {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("content type %s enumeration failed: %v", ct.Name, err))
			if len(items) == 0 {
				continue
			}
		}

		survivors := applyFilters(items, ct.Filters)
		scored := scoreAndSort(survivors, ct.PriorityRules)

		if len(scored) > 0 && scored[0].item.EstimatedBytes > ct.MaxSizeBytes {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("content type %s: budget is smaller than its top-scored candidate", ct.Name))
		}

		selected, excluded := walkBudget(scored, ct.MaxSizeBytes)
		if len(excluded) > 0 {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("content type %s: %d item(s) excluded over budget: %s", ct.Name, len(excluded), strings.Join(excluded, ", ")))
		}

		for _, s := range selected {
			plan.Transfers = append(plan.Transfers, PlannedTransfer{
				ContentType:    ct.Name,
				SourceRef:      s.item.Ref,
				DestinationRef: s.item.Ref,
				EstimatedBytes: s.item.EstimatedBytes,
				PriorityScore:  s.score,
			})
		}
	}

	return plan, nil
}

func applyFilters(items []Item, filters []Filter) []Item {
	if len(filters) == 0 {
		return items
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		keep := true
		for _, f := range filters {
			if !f(item.Metadata) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, item)
		}
	}
	return out
}

type scoredItem struct {
	item  Item
	score float64
}

func scoreAndSort(items []Item, rules []PriorityRule) []scoredItem {
	scored := make([]scoredItem, len(items))
	for i, item := range items {
		var score float64
		for _, rule := range rules {
			if rule.Matches(item.Metadata) {
				score += rule.Weight
			}
		}
		scored[i] = scoredItem{item: item, score: score}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].item.Metadata.Name < scored[j].item.Metadata.Name
	})
	return scored
}

// walkBudget implements spec §4.7 step 1d exactly: accumulate estimated
// bytes walking the sorted list, including every item that still fits
// after the running total, even past the first item that didn't. excluded
// names the refs of items that didn't fit, in walk order, so warnings can
// name them (spec §8.3's seed test expects the excluded items named).
func walkBudget(scored []scoredItem, maxSizeBytes int64) (selected []scoredItem, excluded []string) {
	var accumulated int64
	for _, s := range scored {
		if accumulated+s.item.EstimatedBytes <= maxSizeBytes {
			accumulated += s.item.EstimatedBytes
			selected = append(selected, s)
		} else {
			excluded = append(excluded, s.item.Ref)
		}
	}
	return selected, excluded
}

// ValidatePlan checks the §3 Transfer Plan invariant: per content type,
// the sum of estimated_bytes assigned never exceeds that content type's
// max_size_bytes. Exposed for tests and callers that want a defensive
// assertion after Plan().
func ValidatePlan(plan Plan, contentTypes []ContentType) error {
	budgets := make(map[string]int64, len(contentTypes))
	for _, ct := range contentTypes {
		budgets[ct.Name] = ct.MaxSizeBytes
	}
	totals := make(map[string]int64)
	for _, t := range plan.Transfers {
		totals[t.ContentType] += t.EstimatedBytes
		if totals[t.ContentType] > budgets[t.ContentType] {
			return core.NewFrameworkError("planner.ValidatePlan", "planner", core.ErrInconsistentProgress)
		}
	}
	return nil
}
