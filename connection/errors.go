package connection

import (
	"errors"

	"github.com/mevdschee/tqshard/datasource"
)

var (
	// ErrManagerClosed is returned by a Manager after Close.
	ErrManagerClosed = errors.New("connection manager closed")

	// ErrUnknownDataSource is returned for a data source that is not configured.
	ErrUnknownDataSource = datasource.ErrUnknownDataSource

	// ErrConnectionNotEnough is returned when the connections a query needs
	// cannot be opened.
	ErrConnectionNotEnough = datasource.ErrConnectionNotEnough

	// ErrUnhealthyDataSource is returned for a data source failing its
	// health check.
	ErrUnhealthyDataSource = datasource.ErrUnhealthyDataSource
)
