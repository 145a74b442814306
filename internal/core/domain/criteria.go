package domain

import "sort"

// SearchCriteria maps declared cart field names to the value they must
// equal. All entries are combined with AND.
type SearchCriteria map[string]string

// Fields returns the criteria keys in a stable order.
func (c SearchCriteria) Fields() []string {
	fields := make([]string, 0, len(c))
	for field := range c {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
