package drilldown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/chaplin/healthboard/internal/eventstore"
	"github.com/chaplin/healthboard/internal/models"
)

var (
	// ErrInvalidJSON is a malformed filter document.
	ErrInvalidJSON = errors.New("invalid filter JSON")
	// ErrNoFilters is a well-formed document with no usable filter keys.
	ErrNoFilters = errors.New("no valid filter criteria provided")
)

// recognizedKeys lists the filter keys the builder understands, in the
// order clauses are appended.
var recognizedKeys = []string{
	"account",
	"region",
	"eventCategory",
	"service",
	"status_code",
	"event_type",
	"start_time",
	"arn",
}

const plannedLifecycleSentinel = "PLANNED_LIFECYCLE_EVENT"

// Query is a validated drill-down request ready to execute.
type Query struct {
	Filter    expression.ConditionBuilder
	Effective map[string]string // post-remap filter values, echoed to the caller
	UsedKeys  []string
}

// Build parses a raw filter document and assembles the scan predicate.
// Unrecognized keys are ignored; empty values and the literal string
// "undefined" (a UI artifact) do not count as filters.
func Build(raw string) (*Query, error) {
	var filters map[string]string
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	q := &Query{Effective: make(map[string]string)}
	var clauses []expression.ConditionBuilder

	for _, key := range recognizedKeys {
		value, ok := filters[key]
		if !ok || value == "" || value == "undefined" {
			continue
		}

		if key == "eventCategory" {
			value = remapCategory(value)
			clauses = append(clauses, categoryClause(value, filters["service"]))
		} else {
			clauses = append(clauses, expression.Name(key).Equal(expression.Value(value)))
		}

		q.Effective[key] = value
		q.UsedKeys = append(q.UsedKeys, key)
	}

	if len(clauses) == 0 {
		return nil, ErrNoFilters
	}

	cond := clauses[0]
	for _, c := range clauses[1:] {
		cond = cond.And(c)
	}
	q.Filter = cond

	return q, nil
}

// remapCategory translates the UI's legacy category alias.
func remapCategory(value string) string {
	if value == "plannedChange" {
		return string(models.CategoryScheduledChange)
	}
	return value
}

// categoryClause picks the matching mode for an eventCategory filter: the
// bare planned lifecycle sentinel synthesizes a per-service code when a
// service filter is present and degrades to containment when it is not;
// other long underscore-bearing values are raw event-type codes; anything
// else is a plain category equality. The sentinel must be recognized
// before the long-code test, which it would otherwise satisfy.
func categoryClause(value, service string) expression.ConditionBuilder {
	if value == plannedLifecycleSentinel {
		if service != "" && service != "undefined" {
			code := fmt.Sprintf("AWS_%s_%s", strings.ToUpper(service), plannedLifecycleSentinel)
			return expression.Name("event_type").Equal(expression.Value(code))
		}
		return expression.Name("event_type").Contains(plannedLifecycleSentinel)
	}

	if strings.Contains(value, "_") && len(value) > 20 {
		return expression.Name("event_type").Equal(expression.Value(value))
	}

	return expression.Name("eventCategory").Equal(expression.Value(value))
}

// Scanner is the event-store surface the executor needs.
type Scanner interface {
	ScanAll(ctx context.Context, opts eventstore.ScanOptions) ([]models.HealthEvent, error)
}

// Execute runs the query to completion and returns the deterministically
// sorted result set.
func Execute(ctx context.Context, store Scanner, q *Query) ([]models.HealthEvent, error) {
	events, err := store.ScanAll(ctx, eventstore.ScanOptions{Filter: &q.Filter})
	if err != nil {
		return nil, err
	}
	Sort(events)
	return events, nil
}

// Sort orders events ascending by (account, service, eventCategory,
// start_time), comparing each component as a string with an empty-string
// fallback, ties broken by the next field.
func Sort(events []models.HealthEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		if a.EventCategory != b.EventCategory {
			return a.EventCategory < b.EventCategory
		}
		return a.StartTime < b.StartTime
	})
}
