package index

import (
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"
)

// localFormatFunc formats an epoch-millis column in a named zone:
// logsift_local(timestamp, zone, layout). Offsets are resolved per row, so
// records on either side of a DST change render as Record.Fields does.
const localFormatFunc = "logsift_local"

// zones maps the names handed to localFormatFunc back to locations. Fixed
// zones cannot be loaded by name, so every zone a query uses is registered
// here before the statement runs.
var zones sync.Map

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(localFormatFunc, 3, localFormat); err != nil {
		panic(fmt.Sprintf("registering %s: %v", localFormatFunc, err))
	}
}

func registerZone(loc *time.Location) string {
	name := loc.String()
	if isFixed(loc) {
		_, offset := time.Now().In(loc).Zone()
		name = fmt.Sprintf("%s|%d", name, offset)
	}
	zones.Store(name, loc)
	return name
}

// isFixed reports whether loc has a single offset over the year.
func isFixed(loc *time.Location) bool {
	year := time.Now().Year()
	_, jan := time.Date(year, time.January, 1, 0, 0, 0, 0, loc).Zone()
	_, jul := time.Date(year, time.July, 1, 0, 0, 0, 0, loc).Zone()
	return jan == jul
}

func localFormat(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	ms, ok := args[0].(int64)
	if !ok {
		return nil, nil
	}
	name, _ := args[1].(string)
	layout, _ := args[2].(string)

	loc := time.UTC
	if v, ok := zones.Load(name); ok {
		loc = v.(*time.Location)
	}
	return time.UnixMilli(ms).In(loc).Format(layout), nil
}
