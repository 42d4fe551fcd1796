package source

import "fmt"

// Source type discriminators stored in monitored_queries.source_type.
const (
	TypeDatabase = "database"
	TypeHTTP     = "http"
)

// Opener builds a Source from stored query configuration. The monitor
// takes an Opener rather than calling New directly so tests can substitute
// fixed sources.
type Opener func(sourceType, configJSON, sqlQuery string) (Source, error)

// New constructs the Source for a monitored query's stored configuration.
func New(sourceType, configJSON, sqlQuery string) (Source, error) {
	switch sourceType {
	case TypeDatabase:
		cfg, err := ParseSQLConfig(configJSON)
		if err != nil {
			return nil, err
		}
		if sqlQuery == "" {
			return nil, NewError(KindConfig, nil, "database source requires a sql_query")
		}
		return NewSQLSource(cfg, sqlQuery)

	case TypeHTTP:
		cfg, err := ParseHTTPConfig(configJSON)
		if err != nil {
			return nil, err
		}
		return NewHTTPSource(cfg)

	default:
		return nil, NewError(KindConfig, nil, fmt.Sprintf("unknown source type: %s", sourceType))
	}
}
