// Package queue holds the frontier message codec shared by every transport.
// Implementations live in subpackages (memory, kafka, pubsub).
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

// Encode marshals a task into its wire form:
// {crawlId, url, distance, maxDistance, maxSeconds, maxUrls}.
func Encode(task crawler.Task) ([]byte, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return data, nil
}

// Decode parses a wire message and rejects tasks that cannot be processed.
func Decode(data []byte) (crawler.Task, error) {
	var task crawler.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return crawler.Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	if err := Validate(task); err != nil {
		return crawler.Task{}, err
	}
	return task, nil
}

// Validate checks the fields a worker relies on.
func Validate(task crawler.Task) error {
	switch {
	case task.CrawlID == "":
		return fmt.Errorf("task missing crawlId")
	case task.URL == "":
		return fmt.Errorf("task %s missing url", task.CrawlID)
	case task.Distance < 0:
		return fmt.Errorf("task %s has negative distance %d", task.CrawlID, task.Distance)
	case task.MaxDistance < 0 || task.MaxSeconds < 0 || task.MaxURLs < 0:
		return fmt.Errorf("task %s has negative limits", task.CrawlID)
	}
	return nil
}
