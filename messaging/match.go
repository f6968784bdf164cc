// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "strings"

// MatchTopic reports whether topic matches the MQTT subscription
// filter: "+" matches exactly one level, a trailing "#" matches the
// remaining levels (including none). Filters used by Peerlink start
// with a literal "$"-prefixed level, so the MQTT rule that wildcards
// at the first level skip "$" topics never applies here.
func MatchTopic(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range filterLevels {
		if level == "#" {
			// "#" must be the last filter level; it matches the
			// parent level itself and everything below it.
			return i == len(filterLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
