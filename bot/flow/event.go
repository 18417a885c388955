package flow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/karwa/bannerbot/bot/session"
)

// EventKind tags the normalized inbound event variant.
type EventKind int

const (
	KindCommand EventKind = iota
	KindButton
	KindText
	KindPhoto
)

func (k EventKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindButton:
		return "button"
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	default:
		return "unknown"
	}
}

// Event is the single normalized inbound shape consumed by the engine.
// The presentation adapter produces exactly one Event per update.
type Event struct {
	UserID   int64
	Username string
	Kind     EventKind

	// Command without leading slash, e.g. "start", "ascii".
	Command string

	Button Button

	Text string

	// Forwarded-message origin, used by the admin add-user flow.
	ForwardID   int64
	ForwardName string

	// Photo downloads the uploaded image to a local temp file on demand.
	// The engine invokes it only when the session is actually awaiting an
	// image, so stale photo events cost nothing.
	Photo func(ctx context.Context) (string, error)
}

// ButtonAction is the closed set of callback actions the engine understands.
type ButtonAction int

const (
	BtnNone ButtonAction = iota
	BtnStartASCII
	BtnStartEnhance
	BtnStartTextToImage
	BtnAspect
	BtnPromptAuto
	BtnPromptCustom
	BtnCancel
	BtnMenu
	BtnHelp
	BtnAdminMenu
	BtnAdminAdd
	BtnAdminAddConfirm
	BtnAdminRemove
	BtnAdminRemovePick
	BtnAdminRemoveConfirm
	BtnAdminUsers
	BtnAdminStats
)

// Button is a decoded callback press: action plus typed parameters.
// No string parsing happens past this point.
type Button struct {
	Action   ButtonAction
	Ratio    session.AspectRatio
	TargetID int64
	Page     int
	Topic    HelpTopic
}

// HelpTopic selects a page of the help surface.
type HelpTopic string

const (
	HelpMain    HelpTopic = ""
	HelpASCII   HelpTopic = "ascii"
	HelpEnhance HelpTopic = "enhance"
	HelpT2I     HelpTopic = "t2i"
)

// Callback keys as they appear on the wire. The mapping to ButtonAction
// lives only here and in EncodeButton.
const (
	KeyStartASCII         = "wf_ascii"
	KeyStartEnhance       = "wf_enhance"
	KeyStartTextToImage   = "wf_t2i"
	KeyAspect             = "aspect"
	KeyPromptAuto         = "prompt_auto"
	KeyPromptCustom       = "prompt_custom"
	KeyCancel             = "wf_cancel"
	KeyMenu               = "main_menu"
	KeyHelp               = "help"
	KeyAdminMenu          = "admin_menu"
	KeyAdminAdd           = "admin_add"
	KeyAdminAddConfirm    = "admin_add_confirm"
	KeyAdminRemove        = "admin_remove"
	KeyAdminRemovePick    = "admin_remove_pick"
	KeyAdminRemoveConfirm = "admin_remove_confirm"
	KeyAdminUsers         = "admin_users"
	KeyAdminStats         = "admin_stats"
)

// CallbackKeys lists every key the engine responds to, for registration.
func CallbackKeys() []string {
	return []string{
		KeyStartASCII, KeyStartEnhance, KeyStartTextToImage,
		KeyAspect, KeyPromptAuto, KeyPromptCustom,
		KeyCancel, KeyMenu, KeyHelp,
		KeyAdminMenu, KeyAdminAdd, KeyAdminAddConfirm,
		KeyAdminRemove, KeyAdminRemovePick, KeyAdminRemoveConfirm,
		KeyAdminUsers, KeyAdminStats,
	}
}

// DecodeButton turns a raw callback key and payload into a typed Button.
func DecodeButton(key, payload string) (Button, error) {
	switch key {
	case KeyStartASCII:
		return Button{Action: BtnStartASCII}, nil
	case KeyStartEnhance:
		return Button{Action: BtnStartEnhance}, nil
	case KeyStartTextToImage:
		return Button{Action: BtnStartTextToImage}, nil
	case KeyAspect:
		switch payload {
		case string(session.RatioBanner3x1):
			return Button{Action: BtnAspect, Ratio: session.RatioBanner3x1}, nil
		case string(session.RatioSquare1x1):
			return Button{Action: BtnAspect, Ratio: session.RatioSquare1x1}, nil
		default:
			return Button{}, fmt.Errorf("flow: unknown aspect ratio %q", payload)
		}
	case KeyPromptAuto:
		return Button{Action: BtnPromptAuto}, nil
	case KeyPromptCustom:
		return Button{Action: BtnPromptCustom}, nil
	case KeyCancel:
		return Button{Action: BtnCancel}, nil
	case KeyMenu:
		return Button{Action: BtnMenu}, nil
	case KeyHelp:
		switch HelpTopic(payload) {
		case HelpMain, HelpASCII, HelpEnhance, HelpT2I:
			return Button{Action: BtnHelp, Topic: HelpTopic(payload)}, nil
		default:
			return Button{}, fmt.Errorf("flow: unknown help topic %q", payload)
		}
	case KeyAdminMenu:
		return Button{Action: BtnAdminMenu}, nil
	case KeyAdminAdd:
		return Button{Action: BtnAdminAdd}, nil
	case KeyAdminAddConfirm:
		return Button{Action: BtnAdminAddConfirm}, nil
	case KeyAdminRemove:
		return Button{Action: BtnAdminRemove}, nil
	case KeyAdminRemovePick:
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return Button{}, fmt.Errorf("flow: bad remove target %q", payload)
		}
		return Button{Action: BtnAdminRemovePick, TargetID: id}, nil
	case KeyAdminRemoveConfirm:
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return Button{}, fmt.Errorf("flow: bad remove target %q", payload)
		}
		return Button{Action: BtnAdminRemoveConfirm, TargetID: id}, nil
	case KeyAdminUsers:
		page := 0
		if payload != "" {
			p, err := strconv.Atoi(payload)
			if err != nil {
				return Button{}, fmt.Errorf("flow: bad page %q", payload)
			}
			page = p
		}
		return Button{Action: BtnAdminUsers, Page: page}, nil
	case KeyAdminStats:
		return Button{Action: BtnAdminStats}, nil
	default:
		return Button{}, fmt.Errorf("flow: unknown callback key %q", key)
	}
}
