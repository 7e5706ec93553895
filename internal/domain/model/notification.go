package model

import (
	"strings"
	"time"
)

// EventType names a real-time notification pushed to subscribers.
type EventType string

const (
	EventRunStatusUpdate EventType = "run:status-update"
	EventRunCompleted    EventType = "run:completed"
	EventProjectUpdate   EventType = "project:update"
	EventResultUpdate    EventType = "result:update"
)

// Topic prefixes accepted by the notification channel.
const (
	projectTopicPrefix = "project:"
	runTopicPrefix     = "run:"
)

// Event is a timestamped notification published on a topic.
type Event struct {
	Type      EventType `json:"type"`
	Topic     string    `json:"topic"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ProjectTopic returns the topic carrying events for a project.
func ProjectTopic(projectID string) string {
	return projectTopicPrefix + projectID
}

// RunTopic returns the topic carrying events for a run.
func RunTopic(runID string) string {
	return runTopicPrefix + runID
}

// IsValidTopic reports whether topic names a project or run with a non-empty ID.
func IsValidTopic(topic string) bool {
	for _, prefix := range []string{projectTopicPrefix, runTopicPrefix} {
		if id, ok := strings.CutPrefix(topic, prefix); ok {
			return id != ""
		}
	}
	return false
}
