// Package ux renders the orchestrator's terminal output: stage headers,
// completion/failure/skip lines, and the end-of-run summary.
package ux

import (
	"fmt"
	"time"

	"subpipe/internal/registry"
)

// ANSI color helpers
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// StageHeader prints a timestamped stage header before dispatch.
func StageHeader(index, total int, spec registry.StageSpec) {
	fmt.Printf("\n%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, timestamp(), Reset, Cyan, Reset)
	fmt.Printf("%s[%s]%s  %sStage %d/%d: %s (%s)%s\n",
		Dim, timestamp(), Reset, Bold, index+1, total, spec.Name, spec.Kind, Reset)
	fmt.Printf("%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, timestamp(), Reset, Cyan, Reset)
}

// StageComplete prints a stage completion message.
func StageComplete(index int, stageName string, duration time.Duration) {
	m := int(duration.Minutes())
	s := int(duration.Seconds()) % 60
	fmt.Printf("%s[%s]%s  %s✓ Stage %d (%s) complete (%dm %02ds)%s\n",
		Dim, timestamp(), Reset, Green, index+1, stageName, m, s, Reset)
}

// StageFail prints a critical stage failure message.
func StageFail(index int, stageName, errMsg string) {
	fmt.Printf("%s[%s]%s  %s✗ Stage %d (%s) failed: %s%s\n",
		Dim, timestamp(), Reset, Red, index+1, stageName, errMsg, Reset)
}

// StageFailOptional prints a non-fatal optional-stage failure.
func StageFailOptional(index int, stageName, errMsg string) {
	fmt.Printf("%s[%s]%s  %s⚠ Stage %d (%s) failed (optional, continuing): %s%s\n",
		Dim, timestamp(), Reset, Yellow, index+1, stageName, errMsg, Reset)
}

// StageCached prints a "skipping (cached)" message for a Done stage (§4.9 step 3b).
func StageCached(index int, stageName string) {
	fmt.Printf("%s[%s]%s  %s– Stage %d (%s) skipping (cached)%s\n",
		Dim, timestamp(), Reset, Dim, index+1, stageName, Reset)
}

// StageSkippedMissingUpstream prints a skip message for a stage skipped
// because of an upstream failure: either a failed optional predecessor
// that did not produce one of its declared inputs, or an earlier critical
// failure when stop_on_first_critical_failure is off.
func StageSkippedMissingUpstream(index int, stageName, upstream string) {
	fmt.Printf("%s[%s]%s  %s– Stage %d (%s) skipped: upstream %q did not produce required input%s\n",
		Dim, timestamp(), Reset, Dim, index+1, stageName, upstream, Reset)
}

// ContainmentViolation prints a containment-violation warning for a stage.
func ContainmentViolation(index int, stageName string) {
	fmt.Printf("%s[%s]%s  %s⚠ Stage %d (%s): containment violation — wrote outside its stage directory%s\n",
		Dim, timestamp(), Reset, Red, index+1, stageName, Reset)
}

// Cancelled prints a cancellation notice when the run's context is
// cancelled before stageName starts.
func Cancelled(stageName string) {
	fmt.Printf("\n%sCancelling:%s signal received, stopping before stage %q\n", Yellow, Reset, stageName)
}

// Success prints a final success message.
func Success(total int) {
	fmt.Printf("\n%s[%s]%s  %s%s══ All %d stages complete ══%s\n\n",
		Dim, timestamp(), Reset, Bold, Green, total, Reset)
}

// PartialSuccess prints a final partial-success message.
func PartialSuccess(total int) {
	fmt.Printf("\n%s[%s]%s  %s%s══ %d stages finished, with optional failures ══%s\n\n",
		Dim, timestamp(), Reset, Bold, Yellow, total, Reset)
}

// Failed prints a final failure message.
func Failed(stageName string) {
	fmt.Printf("\n%s══ Pipeline failed at stage %q ══%s\n\n", Red, stageName, Reset)
}
