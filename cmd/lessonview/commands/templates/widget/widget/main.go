//go:build tinygo.wasm

// Package main implements a lessonview WASM widget.
// Build with: tinygo build -o [[.ProjectName]].wasm -target wasi -buildmode=c-shared ./widget
package main

import (
	"fmt"
	"html"
	"os"
	"unsafe"
)

var (
	count      int
	lastResult []byte
	lastError  []byte
)

func main() {}

// render returns a pointer to the widget HTML. The host reads
// get_result_len() bytes from it.
//
//export render
func render() int32 {
	id := os.Getenv("LESSONVIEW_INTERACTIVE_ID")
	lastResult = []byte(fmt.Sprintf(`<div class="lv-counter" data-id="%s">
<button type="button" data-widget-action="increment">+1</button>
<output>%d</output>
<button type="button" data-widget-action="reset">Reset</button>
</div>`, html.EscapeString(id), count))
	return int32(uintptr(unsafe.Pointer(&lastResult[0])))
}

//export get_result_len
func getResultLen() int32 {
	return int32(len(lastResult))
}

//export free_result
func freeResult() {
	lastResult = nil
}

// action handles a button press. Returning non-zero reports failure; the
// host then reads get_error().
//
//export action
func action(namePtr, nameLen, dataPtr, dataLen int32) int32 {
	name := unsafe.String((*byte)(unsafe.Pointer(uintptr(namePtr))), nameLen)
	switch name {
	case "increment":
		count++
	case "reset":
		count = 0
	default:
		lastError = []byte("unknown action: " + name)
		return 1
	}
	return 0
}

//export get_error
func getError() int32 {
	if len(lastError) == 0 {
		return 0
	}
	return int32(uintptr(unsafe.Pointer(&lastError[0])))
}

//export get_error_len
func getErrorLen() int32 {
	return int32(len(lastError))
}
