package gateway

import (
	"time"
)

// TagValue holds the most recent reading for one configured tag.
type TagValue struct {
	Name    string
	Address string
	Words   []uint16 // raw words, length = configured count
	Error   error
	Updated time.Time
}

// GoValue returns the value in a JSON-friendly shape: a single integer for
// one-word tags, a slice for multi-word tags, nil on error.
func (v *TagValue) GoValue() interface{} {
	if v == nil || v.Error != nil {
		return nil
	}
	if len(v.Words) == 1 {
		return v.Words[0]
	}
	return v.Words
}

// equalWords reports whether two readings carry the same words.
func equalWords(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ValueChange represents a tag value that has changed since the last poll.
type ValueChange struct {
	PLCName string
	TagName string
	Address string
	Value   interface{}
}
