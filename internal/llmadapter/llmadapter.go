// Package llmadapter generates a prior-policy/reward-function document
// pair from a free-text task description, via a pluggable Generator.
//
// Grounded on backend/app/llm/client.py and router.py's /llm/generate
// contract (task description, environment params, model/temperature/CoT
// knobs in; a PriorDSL/RewardDSL pair, optional CoT reasoning, and metadata
// out), but with no network client wired: a networked Generator would call
// out to an actual model provider exactly as client.py does, while
// TemplateGenerator below synthesizes a deterministic, offline document
// from the same heuristics the Python original's prompt asks the model to
// follow, so the service has a usable default with no external dependency.
package llmadapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/miry41/lamarl-playground/internal/metrics"
	"github.com/miry41/lamarl-playground/internal/priordsl"
	"github.com/miry41/lamarl-playground/internal/safeexpr"
	"github.com/miry41/lamarl-playground/internal/swarmenv"
)

// EnvParams mirrors the environment parameters sent alongside a generation
// request, used to size radii and cell sizes sensibly for the episode.
type EnvParams struct {
	Shape       string  `json:"shape"`
	NumRobots   int     `json:"nRobot"`
	RSense      float64 `json:"rSense"`
	RAvoid      float64 `json:"rAvoid"`
	NumNeighbor int     `json:"nhn"`
	NumCells    int     `json:"nhc"`
}

// RewardDocument is a compiled-on-demand reward formula plus its source
// text, matching RewardDSL.formula in the Python original.
type RewardDocument struct {
	Formula string `json:"formula"`
}

// Document is the paired prior-policy and reward-function generation
// result, plus optional chain-of-thought commentary and free-form metadata.
type Document struct {
	Prior        priordsl.Document      `json:"prior"`
	Reward       RewardDocument         `json:"reward"`
	CoTReasoning string                 `json:"cotReasoning,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Generator produces a Document from a task description and environment
// parameters. Implementations may call out to a hosted model (networked)
// or synthesize one locally (TemplateGenerator).
type Generator interface {
	Generate(ctx context.Context, taskDescription string, env EnvParams, model string, temperature float64, useCoT, useBasicAPIs bool) (Document, error)
}

// TemplateGenerator is a deterministic, offline Generator: it inspects the
// task description for a handful of keywords and assembles a document from
// a fixed library of term templates, so the service has a usable default
// when no networked model is configured.
type TemplateGenerator struct{}

// Generate implements Generator.
func (TemplateGenerator) Generate(_ context.Context, taskDescription string, env EnvParams, model string, temperature float64, useCoT, useBasicAPIs bool) (Document, error) {
	desc := strings.ToLower(taskDescription)

	terms := []priordsl.Term{
		{Op: priordsl.OpMoveToShapeCenter, Weight: 0.4},
		{Op: priordsl.OpAvoidNeighbors, Weight: 0.3, Radius: env.RAvoid * 2},
	}
	if strings.Contains(desc, "uniform") || strings.Contains(desc, "spread") || useBasicAPIs {
		terms = append(terms, priordsl.Term{Op: priordsl.OpKeepGridUniformity, Weight: 0.2, CellSize: env.RSense})
	}
	if strings.Contains(desc, "sync") || strings.Contains(desc, "flock") || strings.Contains(desc, "formation") {
		terms = append(terms, priordsl.Term{Op: priordsl.OpSynchronizeVelocity, Weight: 0.15})
	}
	if strings.Contains(desc, "explore") || strings.Contains(desc, "cover") || strings.Contains(desc, "fill") {
		terms = append(terms, priordsl.Term{Op: priordsl.OpExploreEmptyCells, Weight: 0.2})
	}

	doc := Document{
		Prior: priordsl.Document{
			Terms: terms,
			Clamp: priordsl.Clamp{MaxSpeed: 1.0},
		},
		Reward: RewardDocument{
			Formula: "coverage - uniformity - 0.05*collisions",
		},
		Metadata: map[string]interface{}{
			"generator":   "template",
			"model":       model,
			"temperature": temperature,
		},
	}

	if useCoT {
		doc.CoTReasoning = fmt.Sprintf(
			"Shape %q with %d robots: blend toward the shape center and away from "+
				"neighbors by default, adding uniformity/sync/explore terms only when "+
				"the task description (%q) asks for them.",
			env.Shape, env.NumRobots, taskDescription)
	}

	return doc, nil
}

// lowWeightSum and highWeightSum bound a prior document's total term weight
// before Validate warns that the blended policy is likely too timid or too
// aggressive relative to the learned policy it is meant to merely nudge.
const (
	lowWeightSum  = 0.3
	highWeightSum = 1.5
)

// ValidationReport is the result of test-executing a generated Document
// against a fixed dummy robot state and reward inputs.
type ValidationReport struct {
	PriorCompiles  bool       `json:"priorCompiles"`
	RewardCompiles bool       `json:"rewardCompiles"`
	SampleAction   [2]float64 `json:"sampleAction"`
	SampleReward   float64    `json:"sampleReward"`
	TotalWeight    float64    `json:"totalWeight"`
	Warnings       []string   `json:"warnings,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// dummyState is a fixed, representative robot state used to smoke-test a
// generated prior document without needing a live episode.
func dummyState() swarmenv.RobotStateDict {
	return swarmenv.RobotStateDict{
		Position:     metrics.Position{X: 0, Y: 0},
		Velocity:     metrics.Position{X: 0.1, Y: -0.1},
		TargetCenter: metrics.Position{X: 1, Y: 1},
		Neighbors: []swarmenv.NeighborState{
			{Position: metrics.Position{X: 0.4, Y: 0}, Velocity: metrics.Position{X: 0, Y: 0.1}},
			{Position: metrics.Position{X: -0.3, Y: 0.2}, Velocity: metrics.Position{X: 0.1, Y: 0}},
		},
		NearbyCells: []swarmenv.CellState{
			{Position: metrics.Position{X: 0.5, Y: 0.5}, Occupied: false},
			{Position: metrics.Position{X: -0.5, Y: -0.5}, Occupied: true},
		},
	}
}

// Validate compiles both halves of doc and test-executes them against a
// fixed dummy state and reward inputs, reporting compile failures and
// flagging a prior whose total term weight sits outside [0.3, 1.5] as
// likely miscalibrated relative to the learned policy it blends with.
func Validate(doc Document) ValidationReport {
	report := ValidationReport{}

	for _, t := range doc.Prior.Terms {
		report.TotalWeight += t.Weight
	}
	if report.TotalWeight > highWeightSum {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"total prior weight %.2f exceeds %.2f: the blended action may drown out the learned policy", report.TotalWeight, highWeightSum))
	}
	if report.TotalWeight < lowWeightSum {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"total prior weight %.2f is below %.2f: the prior may have negligible effect", report.TotalWeight, lowWeightSum))
	}

	policy, err := priordsl.Compile(doc.Prior)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.PriorCompiles = true
	report.SampleAction = policy(dummyState())

	compiled, err := safeexpr.Compile(doc.Reward.Formula)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.RewardCompiles = true

	reward, err := compiled.Eval(safeexpr.Inputs{Coverage: 0.6, Uniformity: 0.3, Collisions: 1})
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.SampleReward = reward

	return report
}
