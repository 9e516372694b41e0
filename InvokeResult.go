package signalr

// InvokeResult is the channel-delivered form of a Handle's outcome, for
// callers that prefer a single receive over Handle's blocking Value/Error
// accessors.
type InvokeResult struct {
	Value interface{}
	Error error
}

// resultChan adapts a Handle into a single-delivery InvokeResult channel.
// The channel receives exactly one value and is then closed.
func resultChan(h *Handle) <-chan InvokeResult {
	ch := make(chan InvokeResult, 1)
	go func() {
		defer close(ch)
		v, err := h.Value()
		if err != nil {
			ch <- InvokeResult{Error: err}
			return
		}
		ch <- InvokeResult{Value: v}
	}()
	return ch
}
