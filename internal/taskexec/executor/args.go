package executor

import (
	"encoding/json"
	"fmt"
	"os"

	"taskexec/internal/taskexec/protocol"
)

// ArgsFile is the serialized map written to the temp file named as the
// worker's sole argv entry.
type ArgsFile struct {
	TaskID          string               `json:"task_id"`
	Implementation  string               `json:"implementation"`
	OperationInputs map[string]any       `json:"operation_inputs"`
	Port            int                  `json:"port"`
	Context         protocol.ContextBlob `json:"context"`
}

// writeArgsFile serializes args to a fresh temp file and returns its path.
func writeArgsFile(args ArgsFile) (string, error) {
	f, err := os.CreateTemp("", "taskexec-args-*.json")
	if err != nil {
		return "", fmt.Errorf("executor: creating args file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(args); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("executor: encoding args file: %w", err)
	}
	return f.Name(), nil
}

// ReadArgsFile deserializes an ArgsFile from path and deletes the file
// immediately after reading, regardless of whether decoding succeeded.
func ReadArgsFile(path string) (ArgsFile, error) {
	defer os.Remove(path)

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the worker's own argv entry
	if err != nil {
		return ArgsFile{}, fmt.Errorf("executor: reading args file: %w", err)
	}

	var args ArgsFile
	if err := json.Unmarshal(data, &args); err != nil {
		return ArgsFile{}, fmt.Errorf("executor: decoding args file: %w", err)
	}
	return args, nil
}
