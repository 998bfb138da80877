package types

// TableName represents a database table name
type TableName string

const (
	// TableNameEvents holds raw usage events, one row per physical copy
	TableNameEvents TableName = "events"

	// TableNameUsagePartials holds materialized partial aggregate states
	TableNameUsagePartials TableName = "usage_partials"
)

func (t TableName) String() string {
	return string(t)
}
