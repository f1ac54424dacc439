package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// BytecodeMarker is the first byte of every pre-compiled Lua chunk ("\x1bLua").
const BytecodeMarker byte = 0x1b

// ValidateScript checks that path holds plain source text. Only the first
// byte is read: pre-compiled chunks can encode operations the text grammar
// cannot reach, so they are rejected before the engine parses anything.
// An empty file is valid source.
func ValidateScript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &Error{Kind: KindValidation, Op: "validate", Path: path, Err: err}
	}
	defer f.Close()

	var first [1]byte
	if _, err := io.ReadFull(f, first[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &Error{Kind: KindValidation, Op: "validate", Path: path, Err: fmt.Errorf("read first byte: %w", err)}
	}
	if first[0] == BytecodeMarker {
		return &Error{Kind: KindValidation, Op: "validate", Path: path, Err: ErrBytecode}
	}
	return nil
}
