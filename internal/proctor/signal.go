package proctor

// SignalKind enumerates the browser-level signals the monitor listens to.
type SignalKind string

const (
	SignalFullscreenChange SignalKind = "fullscreen_change"
	SignalWindowBlur       SignalKind = "window_blur"
	SignalVisibilityChange SignalKind = "visibility_change"
	SignalClipboard        SignalKind = "clipboard"
)

// ClipboardAction names the clipboard operation that was attempted.
type ClipboardAction string

const (
	ClipboardCopy  ClipboardAction = "copy"
	ClipboardCut   ClipboardAction = "cut"
	ClipboardPaste ClipboardAction = "paste"
)

// Signal is one event from the browser.
type Signal struct {
	Kind       SignalKind
	Fullscreen bool            // fullscreen_change: the new state
	Hidden     bool            // visibility_change: true when the page became hidden
	Clipboard  ClipboardAction // clipboard: the attempted action
	// Block cancels the default action of a clipboard signal. May be nil.
	Block func()
}

// Source is the capability through which the monitor observes the browser.
type Source interface {
	// Subscribe delivers every signal to fn until the returned func is called.
	// fn may be invoked from any goroutine.
	Subscribe(fn func(Signal)) (unsubscribe func())
	// IsFullscreen reports the current fullscreen state.
	IsFullscreen() bool
	// RequestFullscreen asks the browser to enter fullscreen.
	RequestFullscreen() error
}
