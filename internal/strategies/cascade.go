package strategies

import (
	"context"
	"errors"
	"fmt"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// State is a driver's position in the extraction state machine:
//
//	NotAttempted -> LockParsed
//	NotAttempted -> ToolInvoked -> Done
//	NotAttempted -> ToolInvoked -> ToolFailed -> FallbackParsed -> Done
type State int

const (
	NotAttempted State = iota
	LockParsed
	ToolInvoked
	ToolFailed
	FallbackParsed
	Done
)

func (s State) String() string {
	switch s {
	case NotAttempted:
		return "not-attempted"
	case LockParsed:
		return "lock-parsed"
	case ToolInvoked:
		return "tool-invoked"
	case ToolFailed:
		return "tool-failed"
	case FallbackParsed:
		return "fallback-parsed"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type stepKind int

const (
	stepLock stepKind = iota
	stepTool
	stepFallback
)

// step is one extraction attempt. run returns ErrNotApplicable when its
// input is absent.
type step struct {
	name string
	kind stepKind
	run  func(ctx context.Context) ([]*model.RawPackageRecord, error)
}

func lockStep(name string, run func(ctx context.Context) ([]*model.RawPackageRecord, error)) step {
	return step{name: name, kind: stepLock, run: run}
}

func toolStep(name string, run func(ctx context.Context) ([]*model.RawPackageRecord, error)) step {
	return step{name: name, kind: stepTool, run: run}
}

func fallbackStep(name string, run func(ctx context.Context) ([]*model.RawPackageRecord, error)) step {
	return step{name: name, kind: stepFallback, run: run}
}

// runCascade tries steps in order and stops at the first success. Failures
// never escape: they are logged and recorded as warnings, and the result
// always ends in LockParsed or Done.
func runCascade(ctx context.Context, env *Env, ecosystem, dir string, steps []step) *Result {
	res := &Result{Ecosystem: ecosystem, Dir: dir, State: NotAttempted}
	log := env.Log.With().Str("ecosystem", ecosystem).Str("dir", dir).Logger()

	advance := func(s State) {
		res.State = s
		res.Trace = append(res.Trace, s)
	}

	for _, st := range steps {
		if ctx.Err() != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", st.name, ctx.Err()))
			break
		}
		if st.kind == stepTool {
			advance(ToolInvoked)
		}
		records, err := st.run(ctx)
		if errors.Is(err, ErrNotApplicable) {
			if st.kind == stepTool {
				res.Trace = res.Trace[:len(res.Trace)-1]
				res.State = prevState(res.Trace)
			}
			log.Debug().Str("step", st.name).Msg("step not applicable")
			continue
		}
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", st.name, err))
			log.Warn().Err(err).Str("step", st.name).Msg("extraction step failed")
			if st.kind == stepTool {
				advance(ToolFailed)
			}
			continue
		}

		res.Records = records
		res.Step = st.name
		switch st.kind {
		case stepTool:
			res.Tool = st.name
		case stepLock:
			advance(LockParsed)
			return res
		case stepFallback:
			advance(FallbackParsed)
			res.Degraded = true
			msg := fmt.Sprintf("%s: results come from a manifest fallback and may omit transitive or pinned versions", st.name)
			res.Warnings = append(res.Warnings, msg)
			log.Warn().Str("step", st.name).Msg("degraded result: manifest fallback used")
		}
		advance(Done)
		return res
	}

	advance(Done)
	return res
}

func prevState(trace []State) State {
	if len(trace) == 0 {
		return NotAttempted
	}
	return trace[len(trace)-1]
}
