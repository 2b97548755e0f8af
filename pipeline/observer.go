package pipeline

// Stage identifies where in the batch lifecycle an item currently is.
type Stage string

const (
	StageClaimed   Stage = "claimed"
	StagePrompted  Stage = "prompted"
	StageSubmitted Stage = "submitted"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// ProgressEvent is one batch item update.
type ProgressEvent struct {
	File        string
	Stage       Stage
	ExecutionID string
	Err         error
}

// Observer receives batch progress updates. The pipeline behaves
// identically with a no-op observer; implementations must not block.
type Observer interface {
	OnProgress(event ProgressEvent)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) OnProgress(ProgressEvent) {}
