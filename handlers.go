package signalr

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// handlerEntry is "Handler entry" from the data model: a callback together
// with the declared types of its parameters, used to deserialize each raw
// JSON argument before the call.
type handlerEntry struct {
	paramTypes []reflect.Type
	callback   reflect.Value
}

// handlerTable maps a server method name to at most one handlerEntry.
// Duplicate registration is rejected: the first registration wins, and a
// later call to on for the same name returns an error rather than silently
// replacing the earlier handler.
type handlerTable struct {
	mx       sync.RWMutex
	handlers map[string]handlerEntry
	info     StructuredLogger
}

func newHandlerTable(info StructuredLogger) *handlerTable {
	return &handlerTable{handlers: make(map[string]handlerEntry), info: info}
}

// on registers callback for methodName. callback must be a func value; its
// parameter types become paramTypes. Returns an error on a duplicate name,
// leaving the existing registration, if any, untouched.
func (t *handlerTable) on(methodName string, callback interface{}) error {
	v := reflect.ValueOf(callback)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("handler for %q is not a function", methodName)
	}
	fnType := v.Type()
	paramTypes := make([]reflect.Type, fnType.NumIn())
	for i := range paramTypes {
		paramTypes[i] = fnType.In(i)
	}

	t.mx.Lock()
	defer t.mx.Unlock()
	if _, exists := t.handlers[methodName]; exists {
		_ = t.info.Log("evt", "duplicate handler registration", "method", methodName, "react", "first registration kept")
		return fmt.Errorf("handler for method %q is already registered", methodName)
	}
	t.handlers[methodName] = handlerEntry{paramTypes: paramTypes, callback: v}
	return nil
}

// dispatch looks up the handler for invocation.Target and, if the argument
// count matches, deserializes each raw argument into the declared parameter
// type and calls the handler. Mismatches and missing targets are logged and
// the message is otherwise dropped.
func (t *handlerTable) dispatch(invocation invocationMessage) {
	t.mx.RLock()
	entry, ok := t.handlers[invocation.Target]
	t.mx.RUnlock()

	if !ok {
		_ = t.info.Log("evt", "dispatch", "msg", "missing handler", "target", invocation.Target)
		return
	}
	if len(entry.paramTypes) != len(invocation.Arguments) {
		_ = t.info.Log("evt", "dispatch", "error", "argument count mismatch",
			"target", invocation.Target, "expected", len(entry.paramTypes), "got", len(invocation.Arguments))
		return
	}

	args := make([]reflect.Value, len(entry.paramTypes))
	for i, pt := range entry.paramTypes {
		argPtr := reflect.New(pt)
		if err := json.Unmarshal(invocation.Arguments[i], argPtr.Interface()); err != nil {
			_ = t.info.Log("evt", "dispatch", "error", err, "target", invocation.Target, "argument", i)
			return
		}
		args[i] = argPtr.Elem()
	}
	entry.callback.Call(args)
}
