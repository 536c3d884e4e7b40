package tui

// KeyBindings lists the keys the status view handles, in the order the
// footer shows them.
var KeyBindings = []struct{ Key, Help string }{
	{"s", "save clip"},
	{"q", "quit"},
}

const (
	keySave  = "s"
	keyQuit  = "q"
	keyCtrlC = "ctrl+c"
)
