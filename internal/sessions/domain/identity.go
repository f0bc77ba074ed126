package domain

import "time"

// DefaultRolloverHour is the local hour at which a new dosing night begins.
// Timestamps before this hour belong to the previous calendar day's session.
const DefaultRolloverHour = 18

// sessionKeyLayout is the stable, sortable key format.
const sessionKeyLayout = "2006-01-02"

// SessionKey maps an instant to the calendar-day key of the night it belongs
// to, under the configured rollover boundary. A timestamp whose local hour in
// loc is before rolloverHour is attributed to the previous day; a timestamp
// exactly at the rollover hour starts the new day.
//
// The mapping is a pure, total function of its inputs. It never reads
// ambient timezone state.
func SessionKey(t time.Time, loc *time.Location, rolloverHour int) string {
	local := t.In(loc)
	if local.Hour() < rolloverHour {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format(sessionKeyLayout)
}

// ParseSessionKey parses a session key back into the midnight of its
// calendar day in loc. Returns an error for malformed keys.
func ParseSessionKey(key string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(sessionKeyLayout, key, loc)
}

// ValidSessionKey reports whether key is a well-formed session key.
func ValidSessionKey(key string) bool {
	_, err := time.Parse(sessionKeyLayout, key)
	return err == nil
}
