package mapping

import "time"

// Record is one structured data point ready for time-series storage. Time is
// UTC truncated to whole seconds, so its JSON form is ISO-8601 with a "Z"
// suffix and second precision. Database names the per-rule target; empty
// means the sink's default.
type Record struct {
	Measurement string            `json:"measurement"`
	Time        time.Time         `json:"time"`
	Tags        map[string]string `json:"tags"`
	Fields      map[string]any    `json:"fields"`
	Database    string            `json:"-"`
}
