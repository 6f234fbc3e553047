package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/steveyegge/deflect/internal/types"
)

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSettings(raw string) (*types.DeflectionSettings, error) {
	var settings types.DeflectionSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
