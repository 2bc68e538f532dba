package session

import (
	"github.com/killallgit/stak/pkg/chat"
	"github.com/killallgit/stak/pkg/executor"
	"github.com/killallgit/stak/pkg/materializer"
	"github.com/killallgit/stak/pkg/parser"
	"github.com/killallgit/stak/pkg/process"
)

// Observer receives session updates. Callbacks run on the turn's goroutine
// (OnTerminal on the executor's) and must not call back into the Session.
type Observer interface {
	// OnMessages is called with a copy of the conversation whenever it changes.
	OnMessages(messages []chat.Message)
	// OnPartialFile shows a file block that is still being written.
	OnPartialFile(file parser.PartialFile)
	// OnTerminal receives raw command output.
	OnTerminal(data []byte)
	OnFiles(results []materializer.FileProcessingResult)
	OnCommands(results []executor.CommandResult)
	// OnState reports a change of turn phase.
	OnState(state process.State)
}

// NopObserver ignores every update. Embed it to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) OnMessages([]chat.Message) {}
func (NopObserver) OnPartialFile(parser.PartialFile) {}
func (NopObserver) OnTerminal([]byte) {}
func (NopObserver) OnFiles([]materializer.FileProcessingResult) {}
func (NopObserver) OnCommands([]executor.CommandResult) {}
func (NopObserver) OnState(process.State) {}

var _ Observer = NopObserver{}
