// Package topicmatch implements MQTT subscription pattern matching.
package topicmatch

import "strings"

// Matches reports whether a concrete published topic matches a subscription
// pattern. Both are `/`-delimited. A `+` segment matches exactly one topic
// segment, a terminal `#` matches the remainder of the topic including the
// parent level itself, so "a/#" matches both "a" and "a/b/c". A `#` anywhere
// but the final position never matches (an invalid pattern per the MQTT spec).
func Matches(pattern, topic string) bool {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")

	for i, seg := range ps {
		switch seg {
		case "#":
			return i == len(ps)-1
		case "+":
			if i >= len(ts) {
				return false
			}
		default:
			if i >= len(ts) || ts[i] != seg {
				return false
			}
		}
	}
	return len(ps) == len(ts)
}
