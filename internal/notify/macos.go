// Package notify sends desktop notifications for escalations and loop stops.
package notify

import (
	"fmt"
	"os/exec"
	"strings"
)

// Send posts a macOS notification via osascript with the default sound.
// Callers gate on the notifications config before calling.
func Send(title, message string) error {
	cmd := exec.Command("osascript", "-e", script(title, message))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// script builds the AppleScript source. Quotes and backslashes are escaped
// so trigger pattern text cannot break out of the string literals.
func script(title, message string) string {
	return fmt.Sprintf(
		`display notification "%s" with title "%s" sound name "default"`,
		escape(message), escape(title),
	)
}

var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escape(s string) string {
	return appleScriptEscaper.Replace(s)
}
