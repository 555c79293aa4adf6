package session

// Action names a student command.
type Action string

const (
	ActionSelect          Action = "select"
	ActionNext            Action = "next"
	ActionPrevious        Action = "previous"
	ActionGoto            Action = "goto"
	ActionRequestSubmit   Action = "request_submit"
	ActionConfirmSubmit   Action = "confirm_submit"
	ActionCancelSubmit    Action = "cancel_submit"
	ActionRetrySubmit     Action = "retry_submit"
	ActionDismissWarning  Action = "dismiss_warning"
	ActionDismissError    Action = "dismiss_error"
	ActionEnterFullscreen Action = "enter_fullscreen"
	ActionOpenCapture     Action = "open_capture"
	ActionCapture         Action = "capture"
	ActionCloseCapture    Action = "close_capture"
	ActionRequestReview   Action = "request_review"
)

// Command is one decoded student command.
type Command struct {
	Action     Action
	QuestionID string
	OptionID   string
	Index      int
	Note       string
}

// Handle applies cmd. It must run on the loop.
func (c *Controller) Handle(cmd Command) {
	if c.closed {
		return
	}

	switch cmd.Action {
	case ActionSelect:
		c.Select(cmd.QuestionID, cmd.OptionID)
	case ActionNext:
		c.Next()
	case ActionPrevious:
		c.Previous()
	case ActionGoto:
		c.Goto(cmd.Index)
	case ActionRequestSubmit:
		c.RequestSubmit()
	case ActionConfirmSubmit:
		c.ConfirmSubmit()
	case ActionCancelSubmit:
		c.CancelSubmit()
	case ActionRetrySubmit:
		c.RetrySubmit()
	case ActionDismissWarning:
		c.DismissWarning()
	case ActionDismissError:
		c.DismissError()
	case ActionEnterFullscreen:
		c.EnterFullscreen()
	case ActionOpenCapture:
		c.OpenCapture()
	case ActionCapture:
		c.Capture()
	case ActionCloseCapture:
		c.CloseCapture()
	case ActionRequestReview:
		c.RequestReview(cmd.Note)
	default:
		c.log.Debug().Str("action", string(cmd.Action)).Msg("Ignoring unknown command")
	}
}
