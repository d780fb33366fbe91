package enrich

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/kiranshivaraju/adlens/internal/ai"
	"github.com/kiranshivaraju/adlens/internal/telemetry"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// MaxTasks caps the task list.
const MaxTasks = 10

// Priority and difficulty levels.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"

	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// FallbackTaskDescription is the placeholder task used when generation fails.
const FallbackTaskDescription = "Review the keyword performance analysis manually; automated recommendations are unavailable for this dataset."

const taskInstructions = `You are an advertising optimization specialist. Given campaign analysis and
insights, produce a prioritized list of concrete optimization tasks.
Return JSON: {"tasks":[{"type":"bid_adjustment|budget|negative_keyword|creative|targeting","priority":"high|medium|low","description":"...","impact":"...","difficulty":"easy|medium|hard","action_items":["..."]}]}`

var priorityRank = map[string]int{LevelHigh: 0, LevelMedium: 1, LevelLow: 2}

// TaskOutput is the final stage's result.
type TaskOutput struct {
	Tasks       []models.OptimizationTask
	AIGenerated bool
	Err         error
}

// TaskCreator asks the generation capability for optimization tasks. Failures
// produce a single placeholder task.
type TaskCreator struct {
	gen    models.GenerationProvider
	logger *zap.Logger
}

func NewTaskCreator(gen models.GenerationProvider, logger *zap.Logger) *TaskCreator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskCreator{gen: gen, logger: logger}
}

func (c *TaskCreator) Name() string { return StageTasks }

// Execute never returns an error.
func (c *TaskCreator) Execute(ctx context.Context, in *InsightOutput) (*TaskOutput, error) {
	tasks, err := c.generate(ctx, in)
	if err != nil {
		var id string
		if in != nil {
			id = jobID(in.Analysis)
		}
		c.logger.Warn("task generation degraded", zap.String("job_id", id), zap.Error(err))
		telemetry.IncGenerationCalls(StageTasks, telemetry.OutcomeDegraded)
		return &TaskOutput{Tasks: []models.OptimizationTask{placeholderTask()}, Err: err}, nil
	}
	telemetry.IncGenerationCalls(StageTasks, telemetry.OutcomeSuccess)
	return &TaskOutput{Tasks: tasks, AIGenerated: true}, nil
}

func (c *TaskCreator) generate(ctx context.Context, in *InsightOutput) ([]models.OptimizationTask, error) {
	if c.gen == nil {
		return nil, ai.ErrNotConfigured
	}
	input, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "encode insights")
	}

	resp, err := c.gen.Generate(ctx, models.GenerateRequest{
		Purpose:      StageTasks,
		Instructions: taskInstructions,
		Input:        input,
	})
	if err != nil {
		return nil, err
	}
	return parseTasks(resp.Content)
}

func parseTasks(content string) ([]models.OptimizationTask, error) {
	doc, err := ai.ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	arr, ok := ai.ExtractArray(doc, "tasks", "optimization_tasks", "items")
	if !ok {
		return nil, eris.Wrap(ai.ErrInvalidResponse, "no tasks array")
	}

	var out []models.OptimizationTask
	arr.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		t := models.OptimizationTask{
			Type:        strings.ToLower(strings.TrimSpace(v.Get("type").String())),
			Priority:    normalizeLevel(v.Get("priority").String(), LevelMedium),
			Description: strings.TrimSpace(v.Get("description").String()),
			Impact:      strings.TrimSpace(v.Get("impact").String()),
			Difficulty:  normalizeDifficulty(v.Get("difficulty").String()),
			ActionItems: []string{},
		}
		if t.Description == "" {
			return true
		}
		if t.Type == "" {
			t.Type = "general"
		}
		v.Get(firstKey(v, "action_items", "actionItems", "actions")).ForEach(func(_, item gjson.Result) bool {
			if s := strings.TrimSpace(item.String()); s != "" {
				t.ActionItems = append(t.ActionItems, s)
			}
			return true
		})
		out = append(out, t)
		return true
	})
	if len(out) == 0 {
		return nil, eris.Wrap(ai.ErrInvalidResponse, "tasks array is empty")
	}

	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank[out[i].Priority] < priorityRank[out[j].Priority]
	})
	if len(out) > MaxTasks {
		out = out[:MaxTasks]
	}
	for i := range out {
		out[i].Position = i + 1
	}
	return out, nil
}

func placeholderTask() models.OptimizationTask {
	return models.OptimizationTask{
		Position:    1,
		Type:        "manual_review",
		Priority:    LevelMedium,
		Description: FallbackTaskDescription,
		Impact:      "unknown",
		Difficulty:  DifficultyEasy,
		ActionItems: []string{
			"Review top and bottom performers by ROAS and ACOS",
			"Check keywords with spend and no conversions",
		},
	}
}

func normalizeLevel(s, def string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "critical", "urgent":
		return LevelHigh
	case "medium", "moderate", "normal":
		return LevelMedium
	case "low", "minor":
		return LevelLow
	}
	return def
}

func normalizeDifficulty(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "low", "simple":
		return DifficultyEasy
	case "hard", "high", "difficult", "complex":
		return DifficultyHard
	}
	return DifficultyMedium
}

func firstKey(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v.Get(k).Exists() {
			return k
		}
	}
	return keys[0]
}
