package models

// Buckets partitions the working set for summary display.
type Buckets struct {
	ToBeProcessed []string `json:"toBeProcessed"`
	Processed     []string `json:"processed"`
	Flagged       []string `json:"flagged"`
	Failed        []string `json:"failed"`
	Counts        Counts   `json:"counts"`
}

// Counts holds the bucket sizes.
type Counts struct {
	Total         int `json:"total"`
	ToBeProcessed int `json:"toBeProcessed"`
	Processed     int `json:"processed"`
	Flagged       int `json:"flagged"`
	Failed        int `json:"failed"`
	Processing    int `json:"processing"`
}
