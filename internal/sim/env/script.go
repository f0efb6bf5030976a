package env

// ScriptHost receives gameplay hooks. The scripting runtime itself lives
// outside this repository.
type ScriptHost interface {
	// OnPrejoinPlayer may refuse a join by returning a non-empty reason.
	OnPrejoinPlayer(name, addr string) string
	OnJoinPlayer(name string)
	OnLeavePlayer(name string, timeout bool)
	// OnChatMessage returns true when the message was consumed.
	OnChatMessage(name, text string) bool
	Step(dtime float64)
}

// NopScriptHost accepts everything and handles nothing.
type NopScriptHost struct{}

func (NopScriptHost) OnPrejoinPlayer(string, string) string { return "" }
func (NopScriptHost) OnJoinPlayer(string)                   {}
func (NopScriptHost) OnLeavePlayer(string, bool)            {}
func (NopScriptHost) OnChatMessage(string, string) bool     { return false }
func (NopScriptHost) Step(float64)                          {}
