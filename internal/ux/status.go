package ux

import (
	"fmt"

	"subpipe/internal/job"
	"subpipe/internal/resume"
)

// RenderStatus prints the `status` CLI command's display: the resume
// classification of every stage in the workflow, without executing
// anything (§6.6).
func RenderStatus(d *job.Descriptor, decisions []resume.Decision) {
	fmt.Printf("%sJob:%s       %s\n", Bold, Reset, d.JobID)
	fmt.Printf("%sWorkflow:%s  %s\n", Bold, Reset, d.Workflow)
	fmt.Printf("%sInput:%s     %s\n", Bold, Reset, d.InputMedia)

	fmt.Printf("\n%sStages:%s\n", Bold, Reset)
	for i, dec := range decisions {
		fmt.Printf("  %s%d%s  %-24s %s\n", Dim, i+1, Reset, dec.StageName, classificationLabel(dec))
	}
	fmt.Println()
}

func classificationLabel(d resume.Decision) string {
	switch d.Classification {
	case resume.Done:
		return fmt.Sprintf("%sdone (cached)%s", Green, Reset)
	case resume.Stale:
		return fmt.Sprintf("%sstale — will re-run%s", Yellow, Reset)
	case resume.Failed:
		return fmt.Sprintf("%sfailed — will re-run%s", Red, Reset)
	case resume.Missing:
		return fmt.Sprintf("%smissing — will run%s", Dim, Reset)
	case resume.Deferred:
		return fmt.Sprintf("%sdeferred (awaiting upstream)%s", Dim, Reset)
	default:
		return string(d.Classification)
	}
}
