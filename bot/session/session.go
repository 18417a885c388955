package session

import "time"

// Workflow identifies the multi-step task a user is currently in.
type Workflow int

const (
	WorkflowNone Workflow = iota
	WorkflowASCII
	WorkflowImageEnhance
	WorkflowTextToImage
	WorkflowAdminAddUser
)

// String returns a stable lowercase name used in logs and audit rows.
func (w Workflow) String() string {
	switch w {
	case WorkflowASCII:
		return "ascii"
	case WorkflowImageEnhance:
		return "image_enhance"
	case WorkflowTextToImage:
		return "text_to_image"
	case WorkflowAdminAddUser:
		return "admin_add_user"
	default:
		return "none"
	}
}

// Step is the workflow's position in its state machine.
type Step int

const (
	StepIdle Step = iota
	StepAwaitingAspectRatio
	StepAwaitingText
	StepAwaitingImage
	StepAwaitingPromptType
	StepAwaitingCustomPrompt
	StepAwaitingUserIdentifier
	StepAwaitingConfirmation
	StepProcessing
)

func (s Step) String() string {
	switch s {
	case StepAwaitingAspectRatio:
		return "awaiting_aspect_ratio"
	case StepAwaitingText:
		return "awaiting_text"
	case StepAwaitingImage:
		return "awaiting_image"
	case StepAwaitingPromptType:
		return "awaiting_prompt_type"
	case StepAwaitingCustomPrompt:
		return "awaiting_custom_prompt"
	case StepAwaitingUserIdentifier:
		return "awaiting_user_identifier"
	case StepAwaitingConfirmation:
		return "awaiting_confirmation"
	case StepProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// AspectRatio selects output image proportions.
type AspectRatio string

const (
	RatioUnset     AspectRatio = ""
	RatioBanner3x1 AspectRatio = "3:1"
	RatioSquare1x1 AspectRatio = "1:1"
)

// PromptMode distinguishes automatic enhancement from a user-provided instruction.
type PromptMode int

const (
	PromptUnset PromptMode = iota
	PromptAuto
	PromptCustom
)

// Session is the per-user conversation state. One exists per user at most;
// installing a new one releases the transient resources of the prior one.
type Session struct {
	UserID      int64
	Workflow    Workflow
	Step        Step
	AspectRatio AspectRatio

	// TextInput holds collected text for ASCII / text-to-image workflows.
	TextInput string

	PromptMode   PromptMode
	CustomPrompt string

	// ImagePath points at a downloaded upload on local disk. It is owned by
	// this session until released.
	ImagePath string

	// Admin add-user flow scratch state.
	PendingTargetID   int64
	PendingTargetName string

	LastActivity time.Time
}

// Active reports whether the session carries a workflow in progress.
func (s Session) Active() bool {
	return s.Workflow != WorkflowNone && s.Step != StepIdle
}
