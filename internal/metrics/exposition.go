package metrics

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// category groups metric families by name prefix for the exposition. The
// declared order and banner text are a compatibility surface for the scrape
// client and must not change between calls.
type category struct {
	prefix string
	banner string
}

var categories = []category{
	{prefix: "http_", banner: "HTTP METRICS"},
	{prefix: "system_", banner: "SYSTEM METRICS"},
	{prefix: "db_", banner: "DATABASE METRICS"},
	{prefix: "books_", banner: "BUSINESS METRICS (Books)"},
	{prefix: "ml_", banner: "MACHINE LEARNING METRICS"},
	{prefix: "user_", banner: "USER METRICS"},
}

const (
	expositionTitle = "API MONITORING METRICS"
	otherBanner     = "OTHER METRICS"
)

// Snapshot samples current system usage into the system gauges, then renders
// every registered series grouped into fixed-order categories. Families
// within a category appear in first-registration order.
func (r *Registry) Snapshot(ctx context.Context) (string, error) {
	r.refreshSystemGauges(ctx)

	families, err := r.prom.Gather()
	if err != nil {
		return "", fmt.Errorf("metrics: gather: %w", err)
	}

	r.mu.Lock()
	order := make(map[string]int, len(r.order))
	for name, idx := range r.order {
		order[name] = idx
	}
	r.mu.Unlock()

	grouped := make(map[string][]*dto.MetricFamily)
	for _, family := range families {
		grouped[categoryFor(family.GetName())] = append(grouped[categoryFor(family.GetName())], family)
	}
	for _, group := range grouped {
		sort.SliceStable(group, func(i, j int) bool {
			return order[group[i].GetName()] < order[group[j].GetName()]
		})
	}

	var out strings.Builder
	rule := "# " + strings.Repeat("=", 78)
	out.WriteString(rule + "\n")
	out.WriteString("# " + expositionTitle + "\n")
	out.WriteString(rule + "\n\n")

	sectionRule := "# " + strings.Repeat("-", 50)
	writeSection := func(banner string, group []*dto.MetricFamily) error {
		if len(group) == 0 {
			return nil
		}
		out.WriteString(sectionRule + "\n")
		out.WriteString("# " + banner + "\n")
		out.WriteString(sectionRule + "\n\n")
		var buf bytes.Buffer
		for _, family := range group {
			buf.Reset()
			if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
				return fmt.Errorf("metrics: render %s: %w", family.GetName(), err)
			}
			out.Write(buf.Bytes())
		}
		out.WriteString("\n")
		return nil
	}

	for _, c := range categories {
		if err := writeSection(c.banner, grouped[c.prefix]); err != nil {
			return "", err
		}
	}
	if err := writeSection(otherBanner, grouped["other"]); err != nil {
		return "", err
	}
	return out.String(), nil
}

func categoryFor(name string) string {
	for _, c := range categories {
		if strings.HasPrefix(name, c.prefix) {
			return c.prefix
		}
	}
	return "other"
}
