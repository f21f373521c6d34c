package messaging

import (
	"context"
	"fmt"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Well-known topic prefixes for live-state fan-out. Each department board,
// patient and doctor subscribes to its own channel.
const (
	TopicQueuePrefix   = "queue:"
	TopicPatientPrefix = "patient:"
	TopicDoctorPrefix  = "doctor:"
)

func QueueTopic(departmentID string) string {
	return fmt.Sprintf("%s%s", TopicQueuePrefix, departmentID)
}

func PatientTopic(patientID string) string {
	return fmt.Sprintf("%s%s", TopicPatientPrefix, patientID)
}

func DoctorTopic(doctorID string) string {
	return fmt.Sprintf("%s%s", TopicDoctorPrefix, doctorID)
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
