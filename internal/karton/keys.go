// Package karton implements the task routing engine: producers publish task
// records and ids, consumers claim them from their priority queues.
package karton

import "github.com/dohr-michael/karton/internal/task"

// Broker keys shared with every other producer and consumer of a deployment.
// The strings are part of the wire contract.
const (
	KeyTasks      = "karton.tasks"
	KeyBinds      = "karton.binds"
	KeyLogs       = "karton.logs"
	KeyOperations = "karton.operations"
	KeyDeadLetter = "karton.deadletter"

	taskKeyPrefix  = "karton.task:"
	stateKeyPrefix = "karton.state:"
	queueKeyPrefix = "karton.queue."
)

// Metric names a per-identity counter hash.
type Metric string

const (
	MetricProduced Metric = "karton.metrics.produced"
	MetricConsumed Metric = "karton.metrics.consumed"
	MetricErrored  Metric = "karton.metrics.errored"
)

// Metrics lists every counter hash.
func Metrics() []Metric {
	return []Metric{MetricProduced, MetricConsumed, MetricErrored}
}

// TaskKey is the key of a task record.
func TaskKey(uid string) string {
	return taskKeyPrefix + uid
}

// StateKey is the hash holding the per-identity state of a task.
func StateKey(uid string) string {
	return stateKeyPrefix + uid
}

// QueueKey is the queue of identity for tasks of the given priority.
func QueueKey(p task.Priority, identity string) string {
	return queueKeyPrefix + string(p) + ":" + identity
}

// ConsumerQueues returns the queues of identity in drain order: high,
// normal, low, then the legacy queue named after the identity itself.
func ConsumerQueues(identity string) []string {
	queues := make([]string, 0, 4)
	for _, p := range task.Priorities() {
		queues = append(queues, QueueKey(p, identity))
	}
	return append(queues, identity)
}
