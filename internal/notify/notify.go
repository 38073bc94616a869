// Package notify raises desktop notifications for incidents that need or
// received operator attention.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Notifier sends system notifications.
type Notifier struct {
	Enabled bool
	// send replaces the platform backend in tests.
	send func(title, message string) error
}

// Send displays a notification. On macOS it uses osascript; elsewhere it is a no-op.
func (n *Notifier) Send(title, message string) error {
	if n == nil || !n.Enabled {
		return nil
	}
	if n.send != nil {
		return n.send(title, message)
	}
	if runtime.GOOS != "darwin" {
		return nil
	}
	return sendMacOSNotification(title, message)
}

func sendMacOSNotification(title, message string) error {
	title = strings.ReplaceAll(title, `"`, `\"`)
	message = strings.ReplaceAll(message, `"`, `\"`)

	script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// FormatAwaitingSelection announces a plan batch waiting on the operator.
func FormatAwaitingSelection(incidentID string, plans int, threats int) (title, message string) {
	title = "Threatfusion: selection required"
	message = fmt.Sprintf("%s: %d plan(s) ready for %d threat(s)", incidentID, plans, threats)
	return title, message
}

// FormatExecuted summarises an executed plan.
func FormatExecuted(incidentID, planID string, success bool, avgEffectiveness float64) (title, message string) {
	if success {
		title = "Threatfusion: plan executed"
	} else {
		title = "Threatfusion: plan partially effective"
	}
	message = fmt.Sprintf("%s: %s averaged %.1f%% effectiveness", incidentID, planID, avgEffectiveness)
	return title, message
}

// FormatFailed reports an incident that stopped before actuation.
func FormatFailed(incidentID, stage string, err error) (title, message string) {
	title = "Threatfusion: incident failed"
	message = fmt.Sprintf("%s: %s stage: %v", incidentID, stage, err)
	return title, message
}
