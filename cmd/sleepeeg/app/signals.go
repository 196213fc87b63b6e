package app

import "github.com/zoobzio/capitan"

// Signals follow the pattern: sleepeeg.<entity>.<event>.
var (
	RunStarted = capitan.NewSignal(
		"sleepeeg.run.started",
		"Recipe run began over a recording",
	)
	RunCompleted = capitan.NewSignal(
		"sleepeeg.run.completed",
		"Every step of a recipe finished",
	)

	StepStarted = capitan.NewSignal(
		"sleepeeg.step.started",
		"Recipe step began execution",
	)
	StepCompleted = capitan.NewSignal(
		"sleepeeg.step.completed",
		"Recipe step finished successfully",
	)
	StepFailed = capitan.NewSignal(
		"sleepeeg.step.failed",
		"Recipe step returned an error",
	)
)

// Field keys for run events.
var (
	FieldRunID     = capitan.NewStringKey("run_id")
	FieldRecording = capitan.NewStringKey("recording")
	FieldStep      = capitan.NewStringKey("step")
	FieldStepIndex = capitan.NewIntKey("step_index")
	FieldDuration  = capitan.NewDurationKey("duration")
	FieldError     = capitan.NewErrorKey("error")
)
