package models

import "time"

// Insight is one observation produced by the insight stage.
type Insight struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Impact      string `json:"impact,omitempty"`
}

// OptimizationTask is one prioritized recommendation.
type OptimizationTask struct {
	Position    int      `json:"position"`
	Type        string   `json:"type"`
	Priority    string   `json:"priority"`
	Description string   `json:"description"`
	Impact      string   `json:"impact"`
	Difficulty  string   `json:"difficulty"`
	ActionItems []string `json:"action_items"`
}

// Pattern is a dataset-wide observation derived without generation.
type Pattern struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Count       int     `json:"count"`
	Share       float64 `json:"share"`
}

// Anomaly flags a ranked record far from its metric's mean.
type Anomaly struct {
	RowIndex int     `json:"row_index"`
	Keyword  string  `json:"keyword"`
	Metric   Metric  `json:"metric"`
	Value    float64 `json:"value"`
	ZScore   float64 `json:"z_score"`
}

// EnrichmentResult holds insights and tasks for a job. AIGenerated is true only
// when both generative stages succeeded.
type EnrichmentResult struct {
	JobID               string             `json:"job_id"`
	Patterns            []Pattern          `json:"patterns"`
	Anomalies           []Anomaly          `json:"anomalies"`
	Insights            []Insight          `json:"insights"`
	Tasks               []OptimizationTask `json:"tasks"`
	InsightsAIGenerated bool               `json:"insights_ai_generated"`
	TasksAIGenerated    bool               `json:"tasks_ai_generated"`
	AIGenerated         bool               `json:"ai_generated"`
	Provider            string             `json:"provider,omitempty"`
	Error               *string            `json:"error,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
}
