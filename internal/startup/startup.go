// Package startup turns the byte stream of the child's readiness descriptor
// into a single structured event.
//
// The contract with the child binary: before it begins serving, it writes one
// JSON object {"ip": string, "port": int} to the descriptor named by the
// -listening-reporter-fd flag, then closes it. A descriptor that closes with
// zero bytes written is ordinary process teardown, not a failed startup.
package startup

import (
	"encoding/json"
	"fmt"
	"io"
)

// Address is the payload of the readiness message.
type Address struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Collect reads r to EOF and decodes the readiness message.
//
// It has two terminal outcomes and one non-outcome:
//   - nonzero bytes received: the decoded Address, or a decode error
//   - a read error: passed through wrapped
//   - zero bytes received: (nil, nil), the channel closed without a message,
//     which happens whenever the child dies before reporting
func Collect(r io.Reader) (*Address, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read startup channel: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var addr Address
	if err := json.Unmarshal(data, &addr); err != nil {
		return nil, fmt.Errorf("decode readiness message: %w", err)
	}
	return &addr, nil
}
