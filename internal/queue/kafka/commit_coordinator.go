package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// commitCoordinator commits offsets per partition in order. Workers finish messages out of
// order; a completed offset is only committed once no lower fetched offset is still in flight.
// Offsets need not be contiguous, so compacted topics and rebalances cannot stall a partition.
type commitCoordinator struct {
	reader     MessageReader
	logger     *zap.Logger
	mu         sync.Mutex
	partitions map[int]*partitionState
}

type partitionState struct {
	inflight map[int64]struct{}      // fetched, not yet completed
	done     map[int64]kafka.Message // completed, waiting on a lower in-flight offset
}

func newCommitCoordinator(reader MessageReader, logger *zap.Logger) *commitCoordinator {
	return &commitCoordinator{
		reader:     reader,
		logger:     logger,
		partitions: make(map[int]*partitionState),
	}
}

func (c *commitCoordinator) partition(p int) *partitionState {
	st, ok := c.partitions[p]
	if !ok {
		st = &partitionState{
			inflight: make(map[int64]struct{}),
			done:     make(map[int64]kafka.Message),
		}
		c.partitions[p] = st
	}
	return st
}

// track records a fetched message as in flight.
func (c *commitCoordinator) track(msg kafka.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partition(msg.Partition).inflight[msg.Offset] = struct{}{}
}

// complete marks msg finished and commits the highest completed offset below every
// offset still in flight, if any.
func (c *commitCoordinator) complete(ctx context.Context, msg kafka.Message) error {
	c.mu.Lock()
	p := msg.Partition
	st := c.partition(p)
	delete(st.inflight, msg.Offset)
	st.done[msg.Offset] = msg

	low, blocked := st.lowestInflight()
	var (
		last  kafka.Message
		found bool
	)
	for off, m := range st.done {
		if blocked && off > low {
			continue
		}
		if !found || off > last.Offset {
			last, found = m, true
		}
		delete(st.done, off)
	}
	c.mu.Unlock()

	if !found {
		return nil
	}
	// Committing an offset covers every earlier one on the partition, so a failed commit
	// is superseded by the next successful one.
	if err := c.reader.CommitMessages(ctx, last); err != nil {
		c.logger.Warn("kafka commit failed",
			zap.Int("partition", p),
			zap.Int64("offset", last.Offset),
			zap.Error(err),
		)
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

func (st *partitionState) lowestInflight() (int64, bool) {
	var (
		low   int64
		found bool
	)
	for off := range st.inflight {
		if !found || off < low {
			low, found = off, true
		}
	}
	return low, found
}

// pending returns how many completed messages wait on an earlier offset.
func (c *commitCoordinator) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, st := range c.partitions {
		n += len(st.done)
	}
	return n
}

// inflight returns how many fetched messages have not completed.
func (c *commitCoordinator) inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, st := range c.partitions {
		n += len(st.inflight)
	}
	return n
}
