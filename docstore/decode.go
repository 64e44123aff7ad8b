package docstore

import (
	"time"

	"github.com/mitchellh/mapstructure"
)

// TimeLayout is the sortable UTC layout used by backends that keep
// timestamps as strings.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Decode copies document fields into a struct using its firestore tags.
// time.Time values pass through; string timestamps in TimeLayout or RFC3339 are parsed.
func Decode(fields Fields, v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "firestore",
		Result:     v,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(fields))
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
