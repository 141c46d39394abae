package executor

// ConnectionMode is the resource strategy chosen for one data source in one query.
type ConnectionMode int

const (
	// MemoryStrictly keeps one connection open per group for the whole query,
	// so query results may stream straight from the database.
	MemoryStrictly ConnectionMode = iota
	// ConnectionStrictly multiplexes units over fewer connections; results are
	// buffered in memory before the connection moves on to the next unit.
	ConnectionStrictly
)

func (m ConnectionMode) String() string {
	switch m {
	case MemoryStrictly:
		return "memory_strictly"
	case ConnectionStrictly:
		return "connection_strictly"
	default:
		return "unknown"
	}
}

// SelectConnectionMode picks the mode for a data source that received unitCount
// units. The budget is inclusive: unitCount == maxConnectionsSizePerQuery stays
// MemoryStrictly. A non-positive budget is treated as 1.
func SelectConnectionMode(unitCount, maxConnectionsSizePerQuery int) ConnectionMode {
	if maxConnectionsSizePerQuery <= 0 {
		maxConnectionsSizePerQuery = 1
	}
	if unitCount > maxConnectionsSizePerQuery {
		return ConnectionStrictly
	}
	return MemoryStrictly
}

// desiredGroupSize returns max(ceil(n/budget), 1).
func desiredGroupSize(unitCount, maxConnectionsSizePerQuery int) int {
	if maxConnectionsSizePerQuery <= 0 {
		maxConnectionsSizePerQuery = 1
	}
	size := unitCount / maxConnectionsSizePerQuery
	if unitCount%maxConnectionsSizePerQuery != 0 {
		size++
	}
	if size < 1 {
		size = 1
	}
	return size
}

// GroupUnits splits the ordered units of one data source into consecutive
// chunks, one per connection. Concatenating the chunks yields units again.
func GroupUnits[U any](units []U, maxConnectionsSizePerQuery int) (ConnectionMode, [][]U) {
	mode := SelectConnectionMode(len(units), maxConnectionsSizePerQuery)
	if len(units) == 0 {
		return mode, nil
	}
	size := desiredGroupSize(len(units), maxConnectionsSizePerQuery)
	chunks := make([][]U, 0, (len(units)+size-1)/size)
	for start := 0; start < len(units); start += size {
		end := start + size
		if end > len(units) {
			end = len(units)
		}
		chunks = append(chunks, units[start:end:end])
	}
	return mode, chunks
}
