package errors

import "sync"

var (
	handlerOnce    sync.Once
	defaultHandler *ErrorHandler
	handlerInitErr error
)

// Default returns the process-wide error handler, creating it on first use.
func Default() (*ErrorHandler, error) {
	handlerOnce.Do(func() {
		defaultHandler, handlerInitErr = NewErrorHandler()
	})
	return defaultHandler, handlerInitErr
}

// HandleError reports err through the default handler. A failure to build the
// handler itself is swallowed; there is nowhere left to report it.
func HandleError(err error) {
	if h, herr := Default(); herr == nil {
		h.Handle(err)
	}
}

// resetDefaultHandler is a test hook.
func resetDefaultHandler() {
	handlerOnce = sync.Once{}
	defaultHandler = nil
	handlerInitErr = nil
}
