package stagerun

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// GlossaryLoad is the orchestrator's one built-in pure_function stage body
// (§4.8's named example). It resolves stage.glossary_load.glossary_path
// from inv.Vars: if set, the referenced file is copied verbatim into
// glossary.json (the glossary file's own schema is a domain concern
// outside this package's scope); if unset, an empty glossary is written so
// downstream stages always find a well-formed file.
func GlossaryLoad(ctx context.Context, inv Invocation) (int, error) {
	_ = ctx // no external calls to cancel; only bounded local file I/O
	dest := filepath.Join(inv.StageDir, "glossary.json")

	src, ok := inv.Vars["GLOSSARY_PATH"]
	if !ok || src == "" {
		if err := os.WriteFile(dest, []byte(`{"terms":[]}`), 0644); err != nil {
			fmt.Fprintf(inv.Output, "glossary_load: writing empty glossary: %v\n", err)
			return 1, nil
		}
		fmt.Fprintln(inv.Output, "glossary_load: no glossary_path configured, writing empty glossary")
		return 0, nil
	}

	in, err := os.Open(src)
	if err != nil {
		fmt.Fprintf(inv.Output, "glossary_load: opening %s: %v\n", src, err)
		return 1, nil
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		fmt.Fprintf(inv.Output, "glossary_load: creating %s: %v\n", dest, err)
		return 1, nil
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		fmt.Fprintf(inv.Output, "glossary_load: copying glossary: %v\n", err)
		return 1, nil
	}
	fmt.Fprintf(inv.Output, "glossary_load: loaded glossary from %s\n", src)
	return 0, nil
}
