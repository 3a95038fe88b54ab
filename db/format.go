package db

import "strconv"

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseActorID parses a numeric chat id.
func ParseActorID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
