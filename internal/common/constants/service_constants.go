package constants

// ExecutionDevice selects the ONNX Runtime execution provider.
type ExecutionDevice string

const (
	ExecutionDeviceAuto ExecutionDevice = "auto"
	ExecutionDeviceCPU  ExecutionDevice = "cpu"
	ExecutionDeviceCUDA ExecutionDevice = "cuda"
)

type FeedbackKind string

const (
	FeedbackPositive FeedbackKind = "positive"
	FeedbackNegative FeedbackKind = "negative"
	FeedbackNeutral  FeedbackKind = "neutral"
)

// ParseFeedbackKind maps user supplied labels onto a FeedbackKind.
// Unrecognised labels are kept as-is so statistics still count them.
func ParseFeedbackKind(s string) FeedbackKind {
	switch s {
	case "positive", "good", "correct", "like", "up":
		return FeedbackPositive
	case "negative", "bad", "wrong", "incorrect", "dislike", "down":
		return FeedbackNegative
	case "neutral", "":
		return FeedbackNeutral
	default:
		return FeedbackKind(s)
	}
}
