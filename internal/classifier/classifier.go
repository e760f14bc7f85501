package classifier

import (
	"regexp"
	"sort"

	"github.com/chaplin/healthboard/internal/models"
)

// Bucket is one of the six business-oriented event-type groupings derived
// by pattern-matching an event's type code. Buckets are not exclusive: a
// record may match zero or several.
type Bucket string

const (
	BucketConfigurationAlerts      Bucket = "configurationAlerts"
	BucketCostImpactEvents         Bucket = "costImpactEvents"
	BucketMaintenanceUpdates       Bucket = "maintenanceUpdates"
	BucketMigrationRequirements    Bucket = "migrationRequirements"
	BucketOperationalNotifications Bucket = "operationalNotifications"
	BucketSecurityCompliance       Bucket = "securityCompliance"
)

// Buckets lists the fixed bucket set in display order.
func Buckets() []Bucket {
	return []Bucket{
		BucketConfigurationAlerts,
		BucketCostImpactEvents,
		BucketMaintenanceUpdates,
		BucketMigrationRequirements,
		BucketOperationalNotifications,
		BucketSecurityCompliance,
	}
}

// BucketName returns the human-readable name shown by the dashboard.
func BucketName(b Bucket) string {
	switch b {
	case BucketConfigurationAlerts:
		return "Configuration Alerts"
	case BucketCostImpactEvents:
		return "Cost Impact Events"
	case BucketMaintenanceUpdates:
		return "Maintenance Updates"
	case BucketMigrationRequirements:
		return "Migration Requirements"
	case BucketOperationalNotifications:
		return "Operational Notifications"
	case BucketSecurityCompliance:
		return "Security & Compliance"
	}
	return string(b)
}

// BucketDescription explains what a bucket groups.
func BucketDescription(b Bucket) string {
	switch b {
	case BucketConfigurationAlerts:
		return "Configuration issues, expiring resources"
	case BucketCostImpactEvents:
		return "Billing changes, capacity reservations, cost impacts"
	case BucketMaintenanceUpdates:
		return "Scheduled maintenance, automatic updates"
	case BucketMigrationRequirements:
		return "Platform migrations, version upgrades, instance retirements"
	case BucketOperationalNotifications:
		return "Service issues, operational alerts"
	case BucketSecurityCompliance:
		return "Security patches, vulnerability notifications"
	}
	return ""
}

// bucketPatterns maps each bucket to the pattern set that defines it. The
// patterns are fixed constants derived from observed event-type codes.
// Membership is a disjunction over the list: any single match is enough,
// so ordering within a list carries no meaning.
var bucketPatterns = map[Bucket][]*regexp.Regexp{
	BucketMigrationRequirements: {
		regexp.MustCompile(`_PLANNED_LIFECYCLE_EVENT$`),
		regexp.MustCompile(`_PERSISTENT_INSTANCE_RETIREMENT_SCHEDULED$`),
		regexp.MustCompile(`_TASK_PATCHING_RETIREMENT$`),
		regexp.MustCompile(`_VM_DEPRECATED$`),
	},
	BucketSecurityCompliance: {
		regexp.MustCompile(`_SECURITY_NOTIFICATION$`),
		regexp.MustCompile(`_SECURITY_PATCHING_EVENT$`),
	},
	BucketMaintenanceUpdates: {
		regexp.MustCompile(`_MAINTENANCE_SCHEDULED$`),
		regexp.MustCompile(`_MAINTENANCE_COMPLETE$`),
		regexp.MustCompile(`_MAINTENANCE_EXTENSION$`),
		regexp.MustCompile(`_UPDATE_AVAILABLE$`),
		regexp.MustCompile(`_UPDATE_COMPLETED$`),
		regexp.MustCompile(`_AUTO_UPGRADE_NOTIFICATION$`),
		regexp.MustCompile(`_UPCOMING_MAINTENANCE$`),
	},
	BucketCostImpactEvents: {
		regexp.MustCompile(`^AWS_BILLING_NOTIFICATION$`),
		regexp.MustCompile(`_ODCR_`),
		regexp.MustCompile(`_SUBSCRIPTION_RENEWAL`),
		regexp.MustCompile(`_CAPACITY_`),
		regexp.MustCompile(`_UNDERUTILIZATION`),
	},
	BucketOperationalNotifications: {
		regexp.MustCompile(`_OPERATIONAL_NOTIFICATION$`),
		regexp.MustCompile(`_OPERATIONAL_ISSUE$`),
		regexp.MustCompile(`_SERVICE_ISSUE$`),
		regexp.MustCompile(`_CLUSTER_HEALTH_ISSUES$`),
		regexp.MustCompile(`_POD_EVICTIONS$`),
		regexp.MustCompile(`_REDUNDANCY_LOSS$`),
		regexp.MustCompile(`_TUNNEL_NOTIFICATION$`),
		regexp.MustCompile(`_EXPERIMENT_EVENT$`),
	},
	BucketConfigurationAlerts: {
		regexp.MustCompile(`_HIGH_RISK_CONFIG`),
		regexp.MustCompile(`_PERSISTENCE_EXPIRING$`),
		regexp.MustCompile(`_RENEWAL_STATE_CHANGE$`),
		regexp.MustCompile(`_CUSTOMER_ENGAGEMENT$`),
		regexp.MustCompile(`_RUNAWAY_TERMINATION`),
	},
}

// MatchBuckets returns every bucket whose pattern set matches the given
// event-type code. An empty code matches nothing.
func MatchBuckets(eventType string) []Bucket {
	if eventType == "" {
		return nil
	}

	var matched []Bucket
	for _, b := range Buckets() {
		for _, p := range bucketPatterns[b] {
			if p.MatchString(eventType) {
				matched = append(matched, b)
				break
			}
		}
	}
	return matched
}

// BucketStat is the per-bucket aggregate shown on the dashboard.
type BucketStat struct {
	ID               Bucket `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	TotalEvents      int    `json:"totalEvents"`
	UpcomingEvents   int    `json:"upcomingEvents"`
	ServicesAffected int    `json:"servicesAffected"`
	UniqueEventTypes int    `json:"uniqueEventTypes"`
}

// TypeStats aggregates events into the six buckets. Records whose type code
// matches no bucket are silently excluded.
func TypeStats(events []models.HealthEvent) []BucketStat {
	type acc struct {
		count    int
		upcoming int
		services map[string]struct{}
		types    map[string]struct{}
	}
	accs := make(map[Bucket]*acc, len(bucketPatterns))
	for _, b := range Buckets() {
		accs[b] = &acc{services: map[string]struct{}{}, types: map[string]struct{}{}}
	}

	for _, e := range events {
		for _, b := range MatchBuckets(e.EventType) {
			a := accs[b]
			a.count++
			a.services[e.Service] = struct{}{}
			a.types[e.EventType] = struct{}{}
			if e.StatusCode == string(models.StatusUpcoming) {
				a.upcoming++
			}
		}
	}

	stats := make([]BucketStat, 0, len(accs))
	for _, b := range Buckets() {
		a := accs[b]
		stats = append(stats, BucketStat{
			ID:               b,
			Name:             BucketName(b),
			Description:      BucketDescription(b),
			TotalEvents:      a.count,
			UpcomingEvents:   a.upcoming,
			ServicesAffected: len(a.services),
			UniqueEventTypes: len(a.types),
		})
	}
	return stats
}

// CategoryStat is the per-category aggregate shown on the dashboard. The
// category is read straight off the record; no pattern inference involved.
type CategoryStat struct {
	ID               models.Category `json:"id"`
	Name             string          `json:"name"`
	TotalEvents      int             `json:"totalEvents"`
	UpcomingEvents   int             `json:"upcomingEvents"`
	ServicesAffected int             `json:"servicesAffected"`
	RegionsAffected  int             `json:"regionsAffected"`
}

// CategoryStats aggregates events by their eventCategory attribute over the
// four fixed categories. Records carrying an unrecognized category are
// dropped from the aggregates.
func CategoryStats(events []models.HealthEvent) []CategoryStat {
	type acc struct {
		count    int
		upcoming int
		services map[string]struct{}
		regions  map[string]struct{}
	}
	accs := make(map[models.Category]*acc)
	for _, c := range models.Categories() {
		accs[c] = &acc{services: map[string]struct{}{}, regions: map[string]struct{}{}}
	}

	for _, e := range events {
		a, ok := accs[models.Category(e.EventCategory)]
		if !ok {
			continue
		}
		a.count++
		a.services[e.Service] = struct{}{}
		a.regions[e.Region] = struct{}{}
		if e.StatusCode == string(models.StatusUpcoming) {
			a.upcoming++
		}
	}

	stats := make([]CategoryStat, 0, len(accs))
	for _, c := range models.Categories() {
		a := accs[c]
		stats = append(stats, CategoryStat{
			ID:               c,
			Name:             models.CategoryName(c),
			TotalEvents:      a.count,
			UpcomingEvents:   a.upcoming,
			ServicesAffected: len(a.services),
			RegionsAffected:  len(a.regions),
		})
	}
	return stats
}

// TopCount is a (name, count) pair used by the insights report.
type TopCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopN tallies the given key across events and returns the n highest
// counts, ties broken by name for determinism.
func TopN(events []models.HealthEvent, n int, key func(models.HealthEvent) string) []TopCount {
	counts := make(map[string]int)
	for _, e := range events {
		k := key(e)
		if k == "" {
			k = "unknown"
		}
		counts[k]++
	}

	out := make([]TopCount, 0, len(counts))
	for name, c := range counts {
		out = append(out, TopCount{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
